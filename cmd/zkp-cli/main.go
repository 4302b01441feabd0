// Command zkp-cli is the client side of the protocol: it generates keys,
// registers them, and logs in against a running zkauth server. It exists both
// as a demo of the exact client algebra and as a smoke-test tool.
//
// The private scalar x never leaves this process; the server only ever sees
// Y = g^x, the commitment R = g^r, and the proof s = (r + c·x) mod q.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/ocx/zkauth/internal/zkp"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	server := os.Getenv("ZKAUTH_URL")
	if server == "" {
		server = "http://localhost:8080"
	}

	switch os.Args[1] {
	case "keygen":
		cmdKeygen()
	case "register":
		cmdRegister(server)
	case "login":
		cmdLogin(server)
	case "version":
		fmt.Printf("zkp-cli v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`zkauth client CLI v` + version + `

Usage: zkp-cli <command> [args]

Commands:
  keygen                       Generate a private scalar x and print Y = g^x
  register <username> <x_hex>  Register Y for username (x stays local)
  login <username> <x_hex>     Run the challenge/verify round trip
  version                      Print version

Environment:
  ZKAUTH_URL   Server base URL (default http://localhost:8080)

The private scalar x_hex is sensitive: treat it like a password.`)
}

func cmdKeygen() {
	gr := zkp.NewGroup()
	x, err := gr.RandomScalar()
	if err != nil {
		fatal("generate key: %v", err)
	}
	y := gr.ModPow(gr.G(), x)

	fmt.Printf("private x (keep secret): %s\n", zkp.EncodeHex(x))
	fmt.Printf("public  Y (register):    %s\n", zkp.EncodeHex(y))
}

func cmdRegister(server string) {
	if len(os.Args) < 4 {
		fatal("usage: zkp-cli register <username> <x_hex>")
	}
	username, xHex := os.Args[2], os.Args[3]

	gr := zkp.NewGroup()
	x, err := zkp.DecodeHex(xHex)
	if err != nil {
		fatal("bad x: %v", err)
	}
	y := gr.ModPow(gr.G(), x)

	// Salt is opaque metadata; the protocol ignores it.
	salt, err := gr.RandomScalar()
	if err != nil {
		fatal("generate salt: %v", err)
	}

	var resp struct {
		UserID   int64  `json:"userId"`
		Username string `json:"username"`
	}
	err = postJSON(server+"/api/v1/auth/register", map[string]string{
		"username":   username,
		"publicKeyY": zkp.EncodeHex(y),
		"salt":       zkp.EncodeHex(salt)[:16],
	}, http.StatusCreated, &resp)
	if err != nil {
		fatal("register: %v", err)
	}

	fmt.Printf("registered %s (user id %d)\n", resp.Username, resp.UserID)
}

func cmdLogin(server string) {
	if len(os.Args) < 4 {
		fatal("usage: zkp-cli login <username> <x_hex>")
	}
	username, xHex := os.Args[2], os.Args[3]

	gr := zkp.NewGroup()
	x, err := zkp.DecodeHex(xHex)
	if err != nil {
		fatal("bad x: %v", err)
	}

	// Round 1: commit to a fresh nonce r.
	r, err := gr.RandomScalar()
	if err != nil {
		fatal("generate nonce: %v", err)
	}
	bigR := gr.ModPow(gr.G(), r)

	var ch struct {
		ChallengeID string `json:"challengeId"`
		C           string `json:"c"`
	}
	err = postJSON(server+"/api/v1/auth/challenge", map[string]string{
		"username": username,
		"clientR":  zkp.EncodeHex(bigR),
	}, http.StatusOK, &ch)
	if err != nil {
		fatal("challenge: %v", err)
	}

	c, err := zkp.DecodeHex(ch.C)
	if err != nil {
		fatal("bad challenge from server: %v", err)
	}

	// Round 2: s = (r + c·x) mod q.
	s := new(big.Int).Mul(c, x)
	s.Add(s, r)
	s.Mod(s, gr.Q())

	var res struct {
		Token     string `json:"token"`
		Type      string `json:"type"`
		ExpiresIn int64  `json:"expiresIn"`
	}
	err = postJSON(server+"/api/v1/auth/verify", map[string]string{
		"challengeId": ch.ChallengeID,
		"s":           zkp.EncodeHex(s),
		"clientR":     zkp.EncodeHex(bigR),
		"username":    username,
	}, http.StatusOK, &res)
	if err != nil {
		fatal("verify: %v", err)
	}

	fmt.Printf("login ok: %s token (expires in %ds)\n%s\n", res.Type, res.ExpiresIn, res.Token)
}

func postJSON(url string, body interface{}, wantStatus int, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != wantStatus {
		return fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, bytes.TrimSpace(data))
	}
	return json.Unmarshal(data, out)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
