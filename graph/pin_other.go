//go:build !linux

package graph

func pinToCPU(int) error { return nil }
