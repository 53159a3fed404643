package api

import (
	"log"

	"github.com/gofiber/fiber/v2"
)

type APIServer struct {
	app           *fiber.App
	listenAddress string
}

// BodyLimit sizes the request cap for a full batch of maximum-size files,
// plus headroom for multipart framing.
func BodyLimit(maxFileSizeMB, maxFiles int) int {
	return (maxFileSizeMB*maxFiles + 10) * 1024 * 1024
}

func NewAPIServer(listenAddress string, bodyLimit int) *APIServer {
	return &APIServer{
		app: fiber.New(fiber.Config{
			BodyLimit: bodyLimit,
		}),
		listenAddress: listenAddress,
	}
}

func (s *APIServer) GetEngine() *fiber.App {
	return s.app
}

func (s *APIServer) Run() error {
	log.Println("Starting API Server")
	log.Printf("Listening on %s", s.listenAddress)

	return s.app.Listen(s.listenAddress)
}
