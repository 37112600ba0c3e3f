//go:build cgo && dav1d

package main

import _ "github.com/DND-IT/avif-go/av1/dav1d"
