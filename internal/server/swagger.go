package server

//go:generate swag init -g internal/server/server.go -o docs/swagger

// @title Miru API
// @version 0.1
// @description Interactive documentation for the Miru visual regression API surface.
// @contact.name Miru Maintainers
// @contact.url https://github.com/raysh454/miru
// @BasePath /
