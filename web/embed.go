// Package web embeds the browser client. Encryption and decryption happen
// in these pages; the key travels only in the URL fragment.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var staticFiles embed.FS

func StaticFS() http.FileSystem {
	fsys, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(fsys)
}

func GetFile(name string) ([]byte, error) {
	return staticFiles.ReadFile("static/" + name)
}
