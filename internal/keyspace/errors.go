package keyspace

import "errors"

var errNotAnInteger = errors.New("keyspace: value is not an integer")

// IsNotAnInteger reports whether err is the error Incr returns when
// the existing value cannot be parsed as a base-10 integer.
func IsNotAnInteger(err error) bool {
	return errors.Is(err, errNotAnInteger)
}
