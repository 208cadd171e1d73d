// Command lotteryctl talks to a running lotteryd over its HTTP API.
//
//	lotteryctl -url http://localhost:8080 -sender N... -secret s3cret buy 1orai
//	lotteryctl end
//	lotteryctl winners 3
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/R3E-Network/lottery_layer/internal/coin"
	"github.com/R3E-Network/lottery_layer/internal/httputil"
	"github.com/R3E-Network/lottery_layer/internal/middleware"
)

const usage = `usage: lotteryctl [flags] <command> [args]

commands:
  token                    print a bearer token for -sender (needs -secret)
  buy <amount><denom>      buy one ticket, e.g. buy 10orai
  end                      close the current round
  pause | resume           admin only
  config                   show the contract configuration
  round                    show the current round
  winners <round-id>       show the winners of a closed round
  history [start-after]    list closed rounds
  ticket <address>         show the first ticket number of address
  balance <address> <denom>

flags:
`

type options struct {
	baseURL string
	sender  string
	secret  string
	token   string
	timeout time.Duration
}

func main() {
	var opts options
	fs := flag.NewFlagSet("lotteryctl", flag.ExitOnError)
	fs.StringVar(&opts.baseURL, "url", envOr("LOTTERY_URL", "http://localhost:8080"), "lotteryd base URL")
	fs.StringVar(&opts.sender, "sender", os.Getenv("LOTTERY_SENDER"), "sender address")
	fs.StringVar(&opts.secret, "secret", os.Getenv("LOTTERY_JWT_SECRET"), "JWT secret used to mint a token for -sender")
	fs.StringVar(&opts.token, "token", os.Getenv("LOTTERY_TOKEN"), "bearer token (overrides -secret)")
	fs.DurationVar(&opts.timeout, "timeout", 15*time.Second, "request timeout")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	if err := run(context.Background(), opts, fs.Args(), os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fs.Usage()
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "lotteryctl: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func run(ctx context.Context, opts options, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]

	if cmd == "token" {
		if opts.secret == "" || opts.sender == "" {
			return errors.New("token needs -secret and -sender")
		}
		token, err := middleware.IssueToken(opts.secret, opts.sender, 24*time.Hour)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, token)
		return err
	}

	token := opts.token
	if token == "" && opts.secret != "" && opts.sender != "" {
		var err error
		if token, err = middleware.IssueToken(opts.secret, opts.sender, time.Hour); err != nil {
			return err
		}
	}
	client := httputil.NewClient(httputil.ClientConfig{BaseURL: opts.baseURL, Token: token, Timeout: opts.timeout})

	var result json.RawMessage
	var err error
	switch cmd {
	case "buy":
		if len(args) != 1 {
			return errUsage
		}
		price, perr := parseCoin(args[0])
		if perr != nil {
			return perr
		}
		err = client.Post(ctx, "/v1/execute", execute(opts.sender, "buy_ticket", price), &result)
	case "end", "pause", "resume":
		name := cmd
		if cmd == "end" {
			name = "end_round"
		}
		err = client.Post(ctx, "/v1/execute", execute(opts.sender, name), &result)
	case "config":
		err = client.Get(ctx, "/v1/config", &result)
	case "round":
		err = client.Get(ctx, "/v1/rounds/current", &result)
	case "winners":
		if len(args) != 1 {
			return errUsage
		}
		if _, perr := strconv.ParseUint(args[0], 10, 64); perr != nil {
			return fmt.Errorf("round id %q: %w", args[0], perr)
		}
		err = client.Get(ctx, "/v1/rounds/"+args[0]+"/winners", &result)
	case "history":
		path := "/v1/rounds"
		if len(args) == 1 {
			path += "?start_after=" + url.QueryEscape(args[0])
		}
		err = client.Get(ctx, path, &result)
	case "ticket":
		if len(args) != 1 {
			return errUsage
		}
		err = client.Get(ctx, "/v1/tickets/"+url.PathEscape(args[0]), &result)
	case "balance":
		if len(args) != 2 {
			return errUsage
		}
		err = client.Get(ctx, "/v1/balances/"+url.PathEscape(args[0])+"/"+url.PathEscape(args[1]), &result)
	default:
		return errUsage
	}
	if err != nil {
		var apiErr *httputil.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized && token == "" {
			return fmt.Errorf("%w (set -token or -secret)", err)
		}
		return err
	}
	return printJSON(out, result)
}

func execute(sender, variant string, funds ...coin.Coin) map[string]any {
	body := map[string]any{"msg": map[string]any{variant: map[string]any{}}}
	if sender != "" {
		body["sender"] = sender
	}
	if len(funds) > 0 {
		body["funds"] = funds
	}
	return body
}

// parseCoin splits "10orai" into amount and denom.
func parseCoin(s string) (coin.Coin, error) {
	i := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if i <= 0 {
		return coin.Coin{}, fmt.Errorf("coin %q: want <amount><denom>", s)
	}
	amount, err := coin.ParseUint(s[:i])
	if err != nil {
		return coin.Coin{}, err
	}
	c := coin.Coin{Denom: s[i:], Amount: amount}
	return c, c.Validate()
}

func printJSON(out io.Writer, raw json.RawMessage) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
