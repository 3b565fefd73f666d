// Package tunnel exposes the panel through a cloudflared quick tunnel.
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"regexp"
	"time"
)

const waitDelay = 5 * time.Second

var urlPattern = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.trycloudflare\.com`)

// ExtractURL finds a quick-tunnel address in one line of cloudflared output.
func ExtractURL(line string) (string, bool) {
	u := urlPattern.FindString(line)
	return u, u != ""
}

type Runner struct {
	// Binary is the cloudflared executable.
	Binary string
	// LocalURL is the address the tunnel forwards to.
	LocalURL string
	URL      *PublicURL
	// OnPublish runs once, after the first URL is published.
	OnPublish func(ctx context.Context, url string)
}

// Run starts cloudflared and blocks until it exits or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, r.Binary, "tunnel", "--no-autoupdate", "--url", r.LocalURL)
	cmd.WaitDelay = waitDelay

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	log.Printf("[tunnel] starting %s -> %s", r.Binary, r.LocalURL)
	if err := cmd.Start(); err != nil {
		pw.Close()
		return fmt.Errorf("start cloudflared: %w", err)
	}

	watched := make(chan struct{})
	go func() {
		defer close(watched)
		r.Watch(ctx, pr)
	}()

	err := cmd.Wait()
	pw.Close()
	<-watched

	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cloudflared exited: %w", err)
	}
	return errors.New("cloudflared exited")
}

// Watch scans output for the tunnel address. It keeps draining rd after the
// URL is found so the child never blocks on a full pipe.
func (r *Runner) Watch(ctx context.Context, rd io.Reader) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)

	found := false
	for sc.Scan() {
		line := sc.Text()
		if found {
			continue
		}
		log.Printf("[tunnel] %s", line)

		u, ok := ExtractURL(line)
		if !ok {
			continue
		}
		found = true
		if r.URL != nil && !r.URL.Publish(u) {
			continue
		}
		log.Printf("[tunnel] public url %s", u)
		if r.OnPublish != nil {
			r.OnPublish(ctx, u)
		}
	}
	if err := sc.Err(); err != nil {
		log.Printf("[tunnel] read output: %v", err)
	}
}
