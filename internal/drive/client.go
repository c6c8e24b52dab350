// Package drive fetches publicly shared Google Drive files and folders.
// Access is anonymous: only link-shared content works, no authentication.
package drive

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/csvmirror/csvmirror/internal/download"
	"github.com/csvmirror/csvmirror/internal/safety"
)

const (
	defaultFileBaseURL   = "https://drive.google.com/uc"
	defaultFolderBaseURL = "https://drive.google.com/embeddedfolderview"
)

// Client downloads public Drive content through a download.Client.
type Client struct {
	dl     *download.Client
	logger *slog.Logger

	// Overridable in tests.
	fileBaseURL   string
	folderBaseURL string
}

// NewClient creates a Drive client on top of the given download client.
func NewClient(dl *download.Client, logger *slog.Logger) *Client {
	return &Client{
		dl:            dl,
		logger:        logger,
		fileBaseURL:   defaultFileBaseURL,
		folderBaseURL: defaultFolderBaseURL,
	}
}

// FetchFile downloads a single file by id to dest.
//
// Drive serves large or unscanned files through an HTML interstitial
// instead of the bytes. When that happens the confirm form is parsed and the
// download is retried against the form's action URL.
func (c *Client) FetchFile(ctx context.Context, fileID, dest string) error {
	u := fmt.Sprintf("%s?export=download&id=%s", c.fileBaseURL, url.QueryEscape(fileID))
	if _, err := c.dl.Download(ctx, download.Options{URL: u, DestPath: dest}); err != nil {
		return fmt.Errorf("downloading file %s: %w", fileID, err)
	}

	isHTML, err := looksLikeHTML(dest)
	if err != nil {
		return fmt.Errorf("inspecting download %s: %w", fileID, err)
	}
	if !isHTML {
		return nil
	}

	// Interstitial page instead of the file: extract the confirm form.
	page, err := os.ReadFile(dest)
	if err != nil {
		return fmt.Errorf("reading interstitial page: %w", err)
	}
	confirmURL, err := parseConfirmForm(page)
	if err != nil {
		return fmt.Errorf("file %s is not directly downloadable: %w", fileID, err)
	}

	c.logger.Debug("following download confirm form", "file_id", fileID)
	if _, err := c.dl.Download(ctx, download.Options{URL: confirmURL, DestPath: dest}); err != nil {
		return fmt.Errorf("downloading file %s (confirmed): %w", fileID, err)
	}
	return nil
}

// Entry is one item of a shared folder listing.
type Entry struct {
	ID       string
	Name     string
	IsFolder bool
}

// FetchFolder downloads the full contents of a shared folder into destDir,
// recursing into subfolders. Individual entries download sequentially.
func (c *Client) FetchFolder(ctx context.Context, folderID, destDir string) error {
	entries, err := c.ListFolder(ctx, folderID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating folder directory: %w", err)
	}

	for _, e := range entries {
		dest, err := safety.StagePath(destDir, e.Name)
		if err != nil {
			c.logger.Warn("skipping folder entry with unsafe name", "name", e.Name, "error", err)
			continue
		}
		if e.IsFolder {
			if err := c.FetchFolder(ctx, e.ID, dest); err != nil {
				return fmt.Errorf("folder %s: %w", e.Name, err)
			}
			continue
		}
		c.logger.Debug("downloading folder entry", "name", e.Name, "file_id", e.ID)
		if err := c.FetchFile(ctx, e.ID, dest); err != nil {
			return err
		}
	}
	return nil
}

// ListFolder retrieves the listing of a shared folder.
func (c *Client) ListFolder(ctx context.Context, folderID string) ([]Entry, error) {
	u := fmt.Sprintf("%s?id=%s", c.folderBaseURL, url.QueryEscape(folderID))
	page, err := c.dl.FetchPage(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("listing folder %s: %w", folderID, err)
	}
	return parseFolderListing(page), nil
}

// entryRe matches one entry of the embedded folder view: the entry id, the
// link target (file vs. folder) and the display name.
var entryRe = regexp.MustCompile(
	`(?s)id="entry-([\w-]+)".*?href="([^"]+)".*?class="flip-entry-title">([^<]*)<`)

// parseFolderListing extracts entries from the embedded folder view HTML.
func parseFolderListing(page []byte) []Entry {
	var entries []Entry
	for _, m := range entryRe.FindAllSubmatch(page, -1) {
		entries = append(entries, Entry{
			ID:       string(m[1]),
			Name:     html.UnescapeString(string(m[3])),
			IsFolder: bytes.Contains(m[2], []byte("/drive/folders/")),
		})
	}
	return entries
}

var (
	formActionRe  = regexp.MustCompile(`<form[^>]*action="([^"]+)"`)
	hiddenInputRe = regexp.MustCompile(`<input[^>]*type="hidden"[^>]*name="([^"]+)"[^>]*value="([^"]*)"`)
)

// parseConfirmForm builds the follow-up download URL from the interstitial
// form: the form action plus every hidden input as a query parameter.
func parseConfirmForm(page []byte) (string, error) {
	action := formActionRe.FindSubmatch(page)
	if action == nil {
		return "", fmt.Errorf("no download form found in interstitial page")
	}

	values := url.Values{}
	for _, m := range hiddenInputRe.FindAllSubmatch(page, -1) {
		values.Set(html.UnescapeString(string(m[1])), html.UnescapeString(string(m[2])))
	}
	if len(values) == 0 {
		return "", fmt.Errorf("download form has no parameters")
	}

	actionURL := html.UnescapeString(string(action[1]))
	sep := "?"
	if strings.Contains(actionURL, "?") {
		sep = "&"
	}
	return actionURL + sep + values.Encode(), nil
}

// looksLikeHTML sniffs the head of a file for an HTML document. SQLite
// databases start with a fixed magic string, so a false positive here would
// require a deliberately hostile file.
func looksLikeHTML(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if n == 0 && err != nil {
		return false, nil // empty file is not HTML
	}
	head := bytes.ToLower(bytes.TrimSpace(buf[:n]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html")), nil
}
