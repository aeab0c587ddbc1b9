package firmware

import (
	"context"
	"fmt"
	"strings"

	"github.com/FidelGB/ipsw-downloader/internal/logctx"
	"golang.org/x/sync/errgroup"
)

// DefaultBaseURL is the public ipsw.me v4 API.
const DefaultBaseURL = "https://api.ipsw.me/v4"

// JSONFetcher is the part of the HTTP client the checker needs.
type JSONFetcher interface {
	FetchJSON(ctx context.Context, url string, v any) error
}

// VersionChecker resolves the latest firmware of one device.
type VersionChecker interface {
	Latest(ctx context.Context, identifier string) (*Descriptor, error)
}

// Checker implements VersionChecker against the ipsw.me API.
type Checker struct {
	client  JSONFetcher
	baseURL string
	selects Selector
}

// NewChecker creates a checker. An empty baseURL means DefaultBaseURL and a
// nil selector means SelectFirst.
func NewChecker(client JSONFetcher, baseURL string, selector Selector) *Checker {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if selector == nil {
		selector = SelectFirst
	}

	return &Checker{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		selects: selector,
	}
}

// DeviceURL is the metadata endpoint of identifier.
func (c *Checker) DeviceURL(identifier string) string {
	return fmt.Sprintf("%s/device/%s?type=ipsw", c.baseURL, identifier)
}

// Latest fetches the device document and returns the selected firmware.
// Every failure is an *InvalidResponseError and is logged naming the device.
func (c *Checker) Latest(ctx context.Context, identifier string) (*Descriptor, error) {
	logger := logctx.LoggerFromContext(ctx).With("device", identifier)

	d, err := c.latest(ctx, identifier)
	if err != nil {
		logger.Error("unable to get device details", "err", err)

		return nil, err
	}

	logger.Debug("latest firmware resolved", "version", d.Version, "url", d.URL)

	return d, nil
}

func (c *Checker) latest(ctx context.Context, identifier string) (*Descriptor, error) {
	var device Device
	if err := c.client.FetchJSON(ctx, c.DeviceURL(identifier), &device); err != nil {
		return nil, &InvalidResponseError{Identifier: identifier, Reason: "request failed", Err: err}
	}

	if len(device.Firmwares) == 0 {
		return nil, &InvalidResponseError{Identifier: identifier, Reason: "response has no firmwares"}
	}

	fw, ok := c.selects(device.Firmwares)
	if !ok {
		return nil, &InvalidResponseError{Identifier: identifier, Reason: "no firmware selected"}
	}

	if fw.Version == "" || fw.URL == "" {
		return nil, &InvalidResponseError{Identifier: identifier, Reason: "latest firmware lacks version or url"}
	}

	return &Descriptor{
		DeviceName: device.Name,
		Identifier: identifier,
		Version:    fw.Version,
		URL:        fw.URL,
	}, nil
}

// Result is the outcome of one device check. Exactly one of Descriptor and
// Err is set.
type Result struct {
	Identifier string
	Descriptor *Descriptor
	Err        error
}

// CheckAll checks every identifier concurrently and waits for all of them.
// Failures are kept per device and never cancel the other checks. Results
// keep the order of identifiers.
func CheckAll(ctx context.Context, checker VersionChecker, identifiers []string) []Result {
	results := make([]Result, len(identifiers))

	var wg errgroup.Group

	for i, identifier := range identifiers {
		wg.Go(func() error {
			d, err := checker.Latest(ctx, identifier)
			results[i] = Result{Identifier: identifier, Descriptor: d, Err: err}

			return nil
		})
	}

	_ = wg.Wait()

	return results
}
