package generic

import "github.com/gin-gonic/gin"

// Server is the HTTP surface shared by the web packages.
type Server struct {
	Router *gin.Engine
	Port   string
	// Methods are the only HTTP methods the server answers.
	Methods []string
}
