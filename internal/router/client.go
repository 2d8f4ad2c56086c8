// Package router watches the devices connected to a home router and reports
// them as presence events for the "lan" community.
package router

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"
)

type client struct {
	base     string
	username string
	password string
	lang     string
	http     *http.Client
	cookie   string
}

func newClient(base, username, password, lang string) *client {
	jar, _ := cookiejar.New(nil)
	return &client{
		base:     strings.TrimRight(base, "/"),
		username: username,
		password: password,
		lang:     lang,
		http: &http.Client{
			Jar:     jar,
			Timeout: 8 * time.Second,
		},
	}
}

// devices returns every device the router lists, logging in again once if the
// session has expired.
func (c *client) devices(ctx context.Context) ([]device, error) {
	if c.cookie == "" {
		if err := c.login(ctx); err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
	}

	devs, err := c.fetchDevices(ctx)
	if err == nil {
		return devs, nil
	}
	c.cookie = ""
	if err := c.login(ctx); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return c.fetchDevices(ctx)
}

func (c *client) login(ctx context.Context) error {
	baseURL, err := url.Parse(c.base)
	if err != nil {
		return err
	}

	req0, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/", nil)
	if err != nil {
		return err
	}
	req0.Header.Set("User-Agent", "Mozilla/5.0")
	resp0, err := c.http.Do(req0)
	if err != nil {
		return err
	}
	body0, _ := io.ReadAll(io.LimitReader(resp0.Body, 2<<20))
	resp0.Body.Close()

	cnt, err := extractCnt(string(body0))
	if err != nil {
		return err
	}

	tid := buildTid(cnt, c.username, c.password)
	c.http.Jar.SetCookies(baseURL, []*http.Cookie{
		{Name: "Cookie", Value: fmt.Sprintf("tid=%s:Language:%s:id=-1", tid, c.lang), Path: "/"},
	})

	reqL, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/login.cgi", nil)
	if err != nil {
		return err
	}
	reqL.Header.Set("User-Agent", "Mozilla/5.0")
	reqL.Header.Set("Referer", c.base+"/")
	respL, err := c.http.Do(reqL)
	if err != nil {
		return err
	}
	respL.Body.Close()

	for _, ck := range c.http.Jar.Cookies(baseURL) {
		if ck.Name == "Cookie" && strings.Contains(ck.Value, "sid=") {
			c.cookie = ck.Value
			return nil
		}
	}
	return fmt.Errorf("sid cookie not found")
}

func (c *client) fetchDevices(ctx context.Context) ([]device, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/html/status/userdevinfo.asp", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Cookie", c.cookie)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %s", resp.Status)
	}
	return parseDevices(string(body)), nil
}

type device struct {
	HostName string
	Status   string
}

var (
	reGetRandCnt = regexp.MustCompile(`GetRandCnt\s*\(\)\s*\{\s*return\s*([0-9]+)\s*;`)
	reUserDevice = regexp.MustCompile(`USERDevice\(([^)]*)\)`)
)

func extractCnt(html string) (string, error) {
	m := reGetRandCnt.FindStringSubmatch(html)
	if len(m) != 2 {
		return "", fmt.Errorf("cnt not found")
	}
	return m[1], nil
}

func buildTid(cnt, username, password string) string {
	return md5Hex(cnt) + md5Hex(username+cnt) + md5Hex(md5Hex(password)+cnt)
}

func md5Hex(value string) string {
	sum := md5.Sum([]byte(value))
	return hex.EncodeToString(sum[:])
}

// parseDevices reads the USERDevice(...) rows of the device status page.
// Status is argument 6 and the host name argument 9. Rows without a host
// name are dropped.
func parseDevices(html string) []device {
	var devices []device
	for _, match := range reUserDevice.FindAllStringSubmatch(html, -1) {
		args := splitJsArgs(match[1])
		if len(args) < 10 || args[9] == "" {
			continue
		}
		devices = append(devices, device{
			Status:   args[6],
			HostName: args[9],
		})
	}
	return devices
}

func splitJsArgs(input string) []string {
	var args []string
	var b strings.Builder
	inQuote := false
	for i := 0; i < len(input); i++ {
		ch := input[i]
		if ch == '"' {
			inQuote = !inQuote
			continue
		}
		if ch == ',' && !inQuote {
			args = append(args, strings.TrimSpace(b.String()))
			b.Reset()
			continue
		}
		b.WriteByte(ch)
	}
	if b.Len() > 0 {
		args = append(args, strings.TrimSpace(b.String()))
	}
	return args
}
