// Command devtoken mints access tokens accepted by the API, for local
// development against a server that trusts JWT_SECRET.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/MathisL971/expo-inklink-sub000/internal/middleware"
	"github.com/MathisL971/expo-inklink-sub000/internal/utils"
)

func main() {
	_ = godotenv.Load()

	sub := flag.String("sub", "", "token subject (user id)")
	role := flag.String("role", middleware.RoleCustomer, "CUSTOMER, ADMIN or PAYMENT")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HMAC secret (defaults to $JWT_SECRET)")
	flag.Parse()

	r := strings.ToUpper(*role)
	switch r {
	case middleware.RoleCustomer, middleware.RoleAdmin, middleware.RolePayment:
	default:
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	tok, err := utils.NewAccessToken(*secret, *sub, r, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "devtoken:", err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}
