package util

import (
	"crypto/sha1"
	"encoding/hex"
)

func GetIDFromString(str *string) string {
	hasher := sha1.New()
	hasher.Write([]byte(*str))

	return hex.EncodeToString(hasher.Sum(nil))
}

// PackageID is the stable id of one version of a target's package.
func PackageID(target, version string) string {
	key := target + "@" + version

	return GetIDFromString(&key)
}
