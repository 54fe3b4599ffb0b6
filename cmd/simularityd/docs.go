package main

// General API documentation for swaggo. Run swaggo's `swag init` to generate docs.
//
// @title           simularity API
// @version         1.0
// @description     HTTP API for multi-session LLM inference with KV-cache prefix reuse.
//
// @contact.name   simularity maintainers
// @contact.url    https://github.com/vladfaust/simularity
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
