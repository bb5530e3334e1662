package version

import "fmt"

type Version struct {
	Major int
	Minor int
	Patch int
}

// String formats the version as major.minor.patch
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

var AppVersion = Version{
	Major: 0,
	Minor: 1,
	Patch: 0,
}
