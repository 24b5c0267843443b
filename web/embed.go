// Package web embeds the dashboard templates and static assets.
package web

import "embed"

// TemplatesFS holds the server-rendered pages.
//
//go:embed templates/*.html
var TemplatesFS embed.FS

// StaticFS holds the stylesheet and chart script.
//
//go:embed static/*
var StaticFS embed.FS
