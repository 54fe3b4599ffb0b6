//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/vladfaust/simularity/docs"
)

// MountSwagger serves the generated OpenAPI document and its UI under
// /swagger/. Enabled with -tags=swagger; regenerate the docs package with
// swaggo's `swag init` after changing handler annotations.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
}
