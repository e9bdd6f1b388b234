//go:build tools
// +build tools

// Package tools pins code generators used via go generate so that go.mod
// tracks them.
package tools

import (
	_ "go.uber.org/mock/mockgen"
)
