// Command msgrelay-post sends a single submission or key node sync to a
// running relay and prints the decoded response.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/msgrelay/internal/config"
	"github.com/agentworkforce/msgrelay/internal/relay"
	"github.com/agentworkforce/msgrelay/internal/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type options struct {
	baseURL       string
	route         string
	format        wire.Format
	clientVersion int32
	retrievalID   string
	token         string
	message       string
	filePath      string
	deviceType    int
	syncUser      int
	syncTarget    int
	keyNode       string
	timeout       time.Duration
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("invalid arguments")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	body, err := buildBody(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to encode request")
	}
	out, err := send(ctx, &http.Client{}, opts, body)
	if err != nil {
		log.Fatal().Err(err).Msg("request failed")
	}
	fmt.Println(out)
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var opts options
	var format string
	var clientVersion string
	fs.StringVar(&opts.baseURL, "base-url", envOrDefault("MSGRELAY_BASE_URL", "http://127.0.0.1:8080"), "relay base URL")
	fs.StringVar(&opts.route, "route", "postMessage", "postMessage, postFile1, postFile2 or syncKeyNodes")
	fs.StringVar(&format, "format", "binary", "binary or text")
	fs.StringVar(&clientVersion, "client-version", fmt.Sprintf("%#08x", config.DefaultMinClientVersion), "client version sent with the request")
	fs.StringVar(&opts.retrievalID, "retrieval-id", "", "base64 retrieval id (random when empty)")
	fs.StringVar(&opts.token, "token", strings.TrimSpace(os.Getenv("MSGRELAY_TOKEN")), "recipient registration token")
	fs.StringVar(&opts.message, "message", "", "message payload")
	fs.StringVar(&opts.filePath, "file", "", "optional file attachment")
	fs.IntVar(&opts.deviceType, "device-type", -1, "explicit device type (inferred by the relay when negative)")
	fs.IntVar(&opts.syncUser, "user", 0, "requesting user id for syncKeyNodes")
	fs.IntVar(&opts.syncTarget, "post-user", 0, "user id whose key node is replaced")
	fs.StringVar(&opts.keyNode, "keynode", "", "key node to post, base64")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	switch strings.ToLower(format) {
	case "binary":
		opts.format = wire.FormatBinary
	case "text":
		opts.format = wire.FormatText
	default:
		return options{}, fmt.Errorf("unknown format %q", format)
	}
	version, err := strconv.ParseInt(clientVersion, 0, 64)
	if err != nil || version <= 0 || version > 0x7fffffff {
		return options{}, fmt.Errorf("invalid client version %q", clientVersion)
	}
	opts.clientVersion = int32(version)
	opts.route = strings.Trim(opts.route, "/")
	if opts.route != "syncKeyNodes" && opts.token == "" {
		return options{}, fmt.Errorf("token is required (--token or MSGRELAY_TOKEN)")
	}
	if opts.retrievalID == "" {
		id := uuid.New()
		opts.retrievalID = base64.StdEncoding.EncodeToString(id[:])
	}
	return opts, nil
}

func buildBody(opts options) ([]byte, error) {
	if opts.route == "syncKeyNodes" {
		req := wire.SyncRequest{ClientVersion: opts.clientVersion, UserID: int32(opts.syncUser)}
		if opts.syncTarget != 0 {
			node, err := base64.StdEncoding.DecodeString(opts.keyNode)
			if err != nil {
				return nil, fmt.Errorf("keynode is not base64: %w", err)
			}
			req.Posting = true
			req.TargetUserID = int32(opts.syncTarget)
			req.KeyNode = node
		}
		return wire.EncodeSync(req, opts.format), nil
	}

	req := wire.Request{
		ClientVersion: opts.clientVersion,
		RetrievalID:   opts.retrievalID,
		Token:         opts.token,
		Message:       []byte(opts.message),
	}
	if opts.filePath != "" {
		data, err := os.ReadFile(opts.filePath)
		if err != nil {
			return nil, err
		}
		req.File = data
	}
	if opts.deviceType >= 0 {
		req.DeviceType = relay.DeviceType(opts.deviceType)
		req.DeviceTypeDeclared = true
	}
	return wire.EncodeSubmission(req, opts.format)
}

func send(ctx context.Context, client *http.Client, opts options, body []byte) (string, error) {
	endpoint := strings.TrimRight(opts.baseURL, "/") + "/" + opts.route
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", opts.format.ContentType())
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if opts.route == "syncKeyNodes" {
		return fmt.Sprintf("%d %s", resp.StatusCode, describeRaw(data, opts.format)), nil
	}
	decoded, err := wire.DecodeSubmitResponse(data, opts.format)
	if err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !decoded.OK {
		return fmt.Sprintf("%d failure: %s", resp.StatusCode, decoded.Message), nil
	}
	detail := decoded.Message
	if opts.format == wire.FormatBinary {
		detail = fmt.Sprintf("%x", decoded.Detail)
	}
	return fmt.Sprintf("%d success (server %s): %s", resp.StatusCode, relay.FormatClientVersion(decoded.ServerVersion), detail), nil
}

func describeRaw(data []byte, format wire.Format) string {
	if format == wire.FormatText {
		return string(data)
	}
	return fmt.Sprintf("%x", data)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
