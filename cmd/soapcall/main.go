// Command soapcall invokes one SOAP operation and prints the normalized
// response as JSON. Every call leaves an audit record in the configured sink.
//
// Usage:
//
//	soapcall -endpoint <url> -method <name> [-action <soapAction>] -ns team=<uri> [-params file.json]
//
// Examples:
//
//	# Parameters from a file, audit files under ./logs
//	soapcall -endpoint https://svc.example.com/soap -method GetUser \
//	    -ns team=http://example.com/team -params user.json
//
//	# Parameters from stdin, production profile from a config file
//	echo '{"id": 7}' | SOAP_ENV=prod soapcall -config soap.yaml -method GetUser -params -
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	soap "github.com/m29h/soapclient"
	pgsink "github.com/m29h/soapclient/auditstore/postgres"
	redissink "github.com/m29h/soapclient/auditstore/redis"
	"github.com/m29h/soapclient/internal/logging"
)

// nsFlag collects repeated -ns prefix=uri arguments in order.
type nsFlag struct {
	ns soap.Namespaces
}

func (f *nsFlag) String() string {
	parts := make([]string, 0, len(f.ns))
	for _, n := range f.ns {
		parts = append(parts, n.Prefix+"="+n.URI)
	}
	return strings.Join(parts, ",")
}

func (f *nsFlag) Set(v string) error {
	prefix, uri, ok := strings.Cut(v, "=")
	if !ok || prefix == "" {
		return fmt.Errorf("expected prefix=uri, got %q", v)
	}
	f.ns = append(f.ns, soap.Namespace{Prefix: prefix, URI: uri})
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("soapcall", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var namespaces nsFlag
	configPath := fs.String("config", "", "YAML configuration file")
	endpoint := fs.String("endpoint", "", "Service URL (overrides config)")
	method := fs.String("method", "", "Operation name, sent as team:<method>")
	action := fs.String("action", "", "SOAPAction header value")
	paramsPath := fs.String("params", "", "JSON object with call parameters, '-' for stdin")
	env := fs.String("env", "", "Transport profile (default: $SOAP_ENV, $APP_ENV or dev)")
	timeout := fs.Duration("timeout", 0, "Round-trip timeout (overrides profile)")
	auditDir := fs.String("audit-dir", "", "Directory for file audit records (overrides config)")
	raw := fs.Bool("raw", false, "Splice parameter values into the envelope unescaped")
	logLevel := fs.String("loglevel", "warn", "Log level: debug, info, warn, error")
	logFormat := fs.String("logformat", "text", "Log format: text or json")
	logFile := fs.String("log-file", "", "Write logs to this file with size-based rotation")
	logMaxSize := fs.Int64("log-max-size", 10<<20, "Rotate the log file after this many bytes")
	fs.Var(&namespaces, "ns", "Namespace declaration prefix=uri (repeatable)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	var logOut io.Writer = stderr
	if *logFile != "" {
		rf, err := logging.OpenRotatingFile(*logFile, *logMaxSize, 5)
		if err != nil {
			fmt.Fprintf(stderr, "soapcall: %v\n", err)
			return 1
		}
		defer func() { _ = rf.Close() }()
		logOut = rf
	}
	logger, err := logging.New(logOut, logging.Options{Level: *logLevel, Format: *logFormat})
	if err != nil {
		fmt.Fprintf(stderr, "soapcall: %v\n", err)
		return 2
	}

	cfg := soap.DefaultConfig()
	if *configPath != "" {
		if cfg, err = soap.LoadConfig(*configPath); err != nil {
			fmt.Fprintf(stderr, "soapcall: %v\n", err)
			return 1
		}
	}
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}
	if len(namespaces.ns) > 0 {
		cfg.Namespaces = namespaces.ns
	}
	if *auditDir != "" {
		cfg.Audit.Driver, cfg.Audit.Dir = "file", *auditDir
	}
	if cfg.Endpoint == "" || *method == "" {
		fmt.Fprintln(stderr, "soapcall: -endpoint (or config endpoint) and -method are required")
		fs.Usage()
		return 2
	}

	params, err := readParams(*paramsPath, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "soapcall: %v\n", err)
		return 1
	}

	sink, closeSink, err := openSink(ctx, cfg.Audit)
	if err != nil {
		fmt.Fprintf(stderr, "soapcall: %v\n", err)
		return 1
	}
	defer closeSink()

	profile := *env
	if profile == "" {
		profile = soap.ProfileFromEnv()
	}
	opts := []soap.Option{
		soap.WithProfile(cfg.Profiles, profile),
		soap.WithTransportOptions(soap.TransportOptions{Timeout: *timeout}),
		soap.WithAuditSink(sink),
		soap.WithLogger(logger),
		soap.WithMetrics(soap.NewMetrics(prometheus.NewRegistry())),
	}
	if *raw || cfg.RawValues {
		opts = append(opts, soap.WithRawParams())
	}
	client, err := soap.NewClient(cfg.Endpoint, cfg.Namespaces, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "soapcall: %v\n", err)
		return 1
	}

	start := time.Now()
	res, err := client.Do(ctx, *method, params, *action)
	if err != nil {
		fmt.Fprintf(stderr, "soapcall: %v\n", err)
		var te *soap.TransportError
		if errors.As(err, &te) {
			return 3
		}
		return 4
	}
	logger.Info("call finished",
		slog.String("token", res.Record.Token),
		slog.Duration("elapsed", time.Since(start)),
	)
	if res.Fault != nil {
		fmt.Fprintf(stderr, "soapcall: %v\n", res.Fault)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res.Tree); err != nil {
		fmt.Fprintf(stderr, "soapcall: %v\n", err)
		return 1
	}
	return 0
}

func readParams(path string, stdin io.Reader) (*soap.Tree, error) {
	switch path {
	case "":
		return soap.NewTree(), nil
	case "-":
		t, err := soap.ReadTree(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading params from stdin: %w", err)
		}
		return t, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening params file: %w", err)
	}
	defer func() { _ = f.Close() }()
	t, err := soap.ReadTree(f)
	if err != nil {
		return nil, fmt.Errorf("parsing params file: %w", err)
	}
	return t, nil
}

func openSink(ctx context.Context, cfg soap.AuditConfig) (soap.Sink, func(), error) {
	noop := func() {}
	switch cfg.Driver {
	case "memory":
		return soap.NewMemorySink(), noop, nil
	case "postgres":
		s, err := pgsink.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case "redis":
		s, err := redissink.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			redissink.WithPrefix(cfg.KeyPrefix), redissink.WithTTL(cfg.RedisTTL))
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return soap.NewFileSink(cfg.Dir), noop, nil
	}
}
