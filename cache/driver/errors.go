// Package driver holds what the cache drivers share.
package driver

import "errors"

// ErrNotFound is returned by every driver for a missing or expired key.
var ErrNotFound = errors.New("key not found")

// Prefix combines a namespace and key prefix the way every driver does.
func Prefix(namespace, keyPrefix string) string {
	if namespace == "" {
		return keyPrefix
	}
	return namespace + ":" + keyPrefix
}
