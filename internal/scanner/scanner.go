package scanner

import (
	"context"
	"fmt"
)

// PackageType represents the type of package
type PackageType int

const (
	TypeUnknown PackageType = iota
	TypeDeb
	TypeRpm
	TypeNuget
)

// String returns the string representation of PackageType
func (pt PackageType) String() string {
	switch pt {
	case TypeDeb:
		return "deb"
	case TypeRpm:
		return "rpm"
	case TypeNuget:
		return "nuget"
	default:
		return "unknown"
	}
}

// ParseType maps a repository type name to its PackageType
func ParseType(name string) (PackageType, error) {
	switch name {
	case "deb":
		return TypeDeb, nil
	case "rpm":
		return TypeRpm, nil
	case "nuget":
		return TypeNuget, nil
	}
	return TypeUnknown, fmt.Errorf("unknown package type %q", name)
}

// ScannedPackage represents a package file found during scanning
type ScannedPackage struct {
	Path string
	Type PackageType
	Size int64
}

// Scanner interface for detecting and scanning packages
type Scanner interface {
	// Scan recursively scans a directory for packages
	Scan(ctx context.Context, dir string) ([]ScannedPackage, error)

	// DetectType determines the package type of a file
	DetectType(path string) (PackageType, error)
}
