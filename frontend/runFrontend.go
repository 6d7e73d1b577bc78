package frontend

import (
	"fmt"
	"os"

	"github.com/jghoshh/habitgrove/frontend/client"
	"github.com/jghoshh/habitgrove/frontend/cmd"
	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
)

func RunFrontend() {
	// Load the .env file
	err := godotenv.Load("frontend/.env")
	if err != nil {
		fmt.Println("Error loading .env file")
	}

	// Read the environment variables
	signingKey := os.Getenv("JWT_SIGNING_KEY")
	authToken := os.Getenv("AUTH_TOKEN")
	authTokenRefresh := os.Getenv("AUTH_TOKEN_REFRESH")
	serverURL := os.Getenv("SERVER_URL")

	// Start each session signed out
	keyring.Delete(client.KeyringService, authToken)
	keyring.Delete(client.KeyringService, authTokenRefresh)
	client.InitClient(serverURL, signingKey, authToken, authTokenRefresh)
	cmd.InitCmd()
	cmd.Execute()
}
