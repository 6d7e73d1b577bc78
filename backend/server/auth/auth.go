package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/form3tech-oss/jwt-go"
	storage "github.com/jghoshh/habitgrove/backend/storage/persistent"
	"github.com/jghoshh/habitgrove/lib/utils"
	"github.com/jghoshh/habitgrove/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

// store is a package-level variable that holds an interface to the storage system (database).
var store storage.StorageInterface

// jwtSigningKey is a package-level variable that holds the key used for signing and verifying JWT tokens.
var jwtSigningKey string

// InitAuth is a function for initializing the authentication system.
//
// It accepts two arguments:
// - s: The storage backend that holds user records. It is shared with the rest of the server.
// - signingKey: The key used to sign JWT tokens.
func InitAuth(s storage.StorageInterface, signingKey string) {
	store = s
	jwtSigningKey = signingKey
}

// CreateAuthToken is a function to create a signed JWT token for a user.
//
// It accepts one argument:
// - userId: The ID of the user to generate a token for.
//
// The function creates a JWT token with the user's ID and an expiration time.
// It returns a signed JWT token or an error if there was a problem during the token creation.
func CreateAuthToken(userId string) (string, error) {
	claims := jwt.MapClaims{
		"id":  userId,
		"exp": time.Now().Add(time.Minute * 30).Unix(),
	}

	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := newToken.SignedString([]byte(jwtSigningKey))

	if err != nil {
		return "", errors.New("failed to create auth token")
	}

	return signedToken, nil
}

// CreateRefreshToken is a function to create a refresh JWT token for a user.
//
// It accepts one argument:
// - userId: The ID of the user to generate a refresh token for.
//
// The function creates a JWT refresh token with the user's ID and an expiration time.
// It returns a signed JWT refresh token or an error if there was a problem during the token creation.
func CreateRefreshToken(userId string) (string, error) {
	claims := jwt.MapClaims{
		"id":  userId,
		"exp": time.Now().Add(time.Hour * 24 * 7).Unix(),
	}

	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := newToken.SignedString([]byte(jwtSigningKey))

	if err != nil {
		return "", errors.New("failed to create refresh token")
	}

	return signedToken, nil
}

// CreateTokens is a function to create both an auth token and a refresh token for a user.
//
// It accepts one argument:
// - userId: The ID of the user to generate tokens for.
//
// The function calls the CreateAuthToken and CreateRefreshToken functions to create a pair of tokens.
// It returns the pair of tokens or an error if there was a problem during the token creation.
func CreateTokens(userId string) (string, string, error) {
	authToken, authErr := CreateAuthToken(userId)
	if authErr != nil {
		return "", "", authErr
	}

	refreshToken, refreshErr := CreateRefreshToken(userId)
	if refreshErr != nil {
		return "", "", refreshErr
	}

	return authToken, refreshToken, nil
}

// SignIn is a function for authenticating a user.
//
// It accepts two arguments:
// - username: A string containing the username of the user attempting to log in.
// - password: A string containing the password of the user attempting to log in.
//
// This function performs several tasks:
// It checks if the length of the username is at least 2 characters.
// It finds the user in the database by their username.
// It compares the hashed password stored in the database with the password provided by the user.
// It calls CreateTokens function to generate a new pair of tokens for the user.
//
// The function returns an authentication token, a refresh token,
// and an error if there was a problem with any step of the process.
func SignIn(username string, password string) (string, string, error) {

	if len(username) < 2 {
		return "", "", errors.New("invalid username")
	}

	foundUser, err := store.FindUserByUsername(context.Background(), username)
	if err != nil || foundUser == nil {
		return "", "", errors.New("authentication failed")
	}

	err = bcrypt.CompareHashAndPassword([]byte(foundUser.PasswordHash), []byte(password))
	if err != nil {
		return "", "", errors.New("authentication failed")
	}

	token, refreshToken, err := CreateTokens(foundUser.ID.Hex())
	if err != nil {
		return "", "", err
	}

	return token, refreshToken, nil
}

// SignUp is a function for registering a new user.
//
// It accepts three arguments:
// - username: A string containing the username of the new user.
// - email: A string containing the email of the new user.
// - password: A string containing the password of the new user.
//
// This function performs several tasks:
// It checks if the length of the username is at least 2 characters.
// It validates the email format and the password complexity.
// It checks if a user with the same email or username already exists in the database.
// It hashes the password provided by the user.
// It creates a new user in the database with the provided details.
// It calls CreateTokens function to generate a new pair of tokens for the user.
//
// The function returns an authentication token, a refresh token, and an error if there was a problem with any step of the process.
func SignUp(username string, email string, password string) (string, string, error) {

	if len(username) < 2 {
		return "", "", errors.New("invalid username")
	}

	if !utils.ValidateEmail(email) {
		return "", "", errors.New("invalid email format")
	}

	if !utils.ValidatePassword(password) {
		return "", "", errors.New("password must be at least 8 characters and contain both letters and numbers")
	}

	foundUser, err := store.FindUserByEmail(context.Background(), email)
	if err != nil {
		return "", "", err
	}
	if foundUser != nil {
		return "", "", errors.New("an account with this email already exists")
	}

	foundUser, err = store.FindUserByUsername(context.Background(), username)
	if err != nil {
		return "", "", err
	}
	if foundUser != nil {
		return "", "", errors.New("username is taken")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}

	user := &models.User{
		ID:           primitive.NewObjectID(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
	}

	added, err := store.AddUser(context.Background(), user)
	if err != nil {
		return "", "", err
	}

	token, refreshToken, err := CreateTokens(added.ID.Hex())
	if err != nil {
		return "", "", err
	}

	return token, refreshToken, nil
}

// RefreshToken is a function that validates a refresh token and generates a new pair of tokens if the refresh token is valid.
// It accepts two arguments:
// - userId: A string containing the id of the user who is requesting new tokens.
// - refreshToken: A string containing the refresh token to be validated.
//
// This function performs several tasks:
// It parses the refresh token and validates it.
// If the refresh token is valid and belongs to the given user, it generates a new pair of tokens.
// If the refresh token is expired or invalid, or does not belong to the given user, it returns an error.
//
// The function returns the new tokens (or empty strings if there was an error), and an error if there was a problem with any step of the process.
func RefreshToken(userId string, refreshToken string) (string, string, error) {
	token, err := jwt.Parse(refreshToken, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSigningKey), nil
	})

	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok {
			if ve.Errors == jwt.ValidationErrorExpired {
				return "", "", errors.New("expired refresh token")
			}
		}
		return "", "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", errors.New("invalid refresh token")
	}

	if claims["id"] != userId {
		return "", "", errors.New("invalid refresh token")
	}

	return CreateTokens(userId)
}
