package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"securechat/internal/domain"
	"securechat/internal/service"
)

// devtoken firma un access token de desarrollo con JWT_SECRET.
func main() {
	_ = godotenv.Load()

	userID := flag.String("user", "", "user id (sub)")
	email := flag.String("email", "", "email opcional")
	ttl := flag.Duration("ttl", time.Hour, "vigencia del token")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	if *userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	token, err := service.NewJWTService(secret, *ttl).GenerateAccessToken(domain.User{ID: *userID, Email: *email})
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	fmt.Println(token)
}
