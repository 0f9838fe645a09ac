package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/thumbgen/tracker/internal/model"
)

func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password (prompted when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	values, err := prompt("Sign in", []promptField{
		{Label: "Email", Value: *email},
		{Label: "Password", Value: *password, Secret: true},
	})
	if err != nil {
		return err
	}

	return authenticate(func(ctx context.Context, e *env) (*model.AuthResponse, error) {
		return e.api.SignIn(ctx, values[0], values[1])
	})
}

func runSignup(args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password, at least 8 characters (prompted when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	values, err := prompt("Create account", []promptField{
		{Label: "Name", Value: *name},
		{Label: "Email", Value: *email},
		{Label: "Password", Value: *password, Secret: true},
	})
	if err != nil {
		return err
	}

	return authenticate(func(ctx context.Context, e *env) (*model.AuthResponse, error) {
		return e.api.SignUp(ctx, values[0], values[1], values[2])
	})
}

// authenticate runs call and stores the returned token.
func authenticate(call func(context.Context, *env) (*model.AuthResponse, error)) error {
	e, err := loadEnv(true)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := call(ctx, e)
	if err != nil {
		return err
	}
	if res.Token == "" {
		return fmt.Errorf("server returned no token")
	}
	if err := e.store.Save(res.Token); err != nil {
		return err
	}

	msg := res.Message
	if msg == "" {
		msg = "signed in"
	}
	fmt.Printf("%s (token saved to %s)\n", msg, e.store.Path())
	return nil
}

func runLogout(args []string) error {
	fs := flag.NewFlagSet("logout", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := loadEnv(true)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.store.Clear(); err != nil {
		return err
	}
	fmt.Println("signed out")
	return nil
}
