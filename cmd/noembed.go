//go:build !embed

package main

var dbcContent []byte
