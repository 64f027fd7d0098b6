// Package web holds the server-rendered pages and their assets.
package web

import (
	"embed"
	"io/fs"
)

// Templates embeds the layout, partial and page templates.
//
//go:embed templates/**/*.html
var Templates embed.FS

//go:embed static/**/*
var static embed.FS

// Static returns the asset tree rooted at static/, as served under /static/.
func Static() (fs.FS, error) {
	return fs.Sub(static, "static")
}
