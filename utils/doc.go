// Package utils holds the named logrus logger registry and environment helpers.
package utils
