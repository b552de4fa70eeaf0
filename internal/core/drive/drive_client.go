package drive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/quorumlabs/lexvault/internal/core"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	googleDocsKind = "application/vnd.google-apps."
	docxMimeType   = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// DriveClient lists and exports files from a shared Google Drive folder tree
// using a read-only service account.
type DriveClient struct {
	svc *drive.Service
}

func NewDriveClient(ctx context.Context, credentialsFile string) (*DriveClient, error) {
	opts := []option.ClientOption{option.WithScopes(drive.DriveReadonlyScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &DriveClient{svc: svc}, nil
}

// MapFolder walks the folder tree depth-first and returns every non-folder
// item, each carrying its path inside the tree. Names with whitespace are
// normalized to underscores for stable paths.
func (c *DriveClient) MapFolder(ctx context.Context, folderID string) ([]*core.DriveFile, error) {
	var out []*core.DriveFile
	if err := c.walkFolder(ctx, folderID, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DriveClient) walkFolder(ctx context.Context, folderID, folderPath string, out *[]*core.DriveFile) error {
	slog.Debug("mapping drive folder", "folder_id", folderID, "path", folderPath)

	items, err := c.listFolder(ctx, folderID)
	if err != nil {
		return fmt.Errorf("list folder %s: %w", folderID, err)
	}

	for _, f := range items {
		safeName := whitespacePattern.ReplaceAllString(f.Name, "_")
		if f.MimeType == folderMimeType {
			if err := c.walkFolder(ctx, f.Id, path.Join(folderPath, safeName), out); err != nil {
				return err
			}
			continue
		}

		modified, err := time.Parse(time.RFC3339, f.ModifiedTime)
		if err != nil {
			return fmt.Errorf("parse modified time for %s: %w", f.Name, err)
		}
		*out = append(*out, &core.DriveFile{
			ID:           f.Id,
			Name:         safeName,
			MimeType:     f.MimeType,
			ModifiedTime: modified,
			FolderPath:   folderPath,
		})
	}
	return nil
}

func (c *DriveClient) listFolder(ctx context.Context, folderID string) ([]*drive.File, error) {
	var (
		files     []*drive.File
		pageToken string
	)
	for {
		call := c.svc.Files.List().
			Q(fmt.Sprintf("'%s' in parents and trashed = false", folderID)).
			Fields("nextPageToken, files(id, name, mimeType, modifiedTime)").
			PageSize(1000).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		res, err := call.Do()
		if err != nil {
			return nil, err
		}
		files = append(files, res.Files...)
		if res.NextPageToken == "" {
			return files, nil
		}
		pageToken = res.NextPageToken
	}
}

// ExportFile fetches the item's bytes. Google-native documents are exported
// as docx so the office conversion path handles them like any other upload;
// regular binaries are downloaded as-is.
func (c *DriveClient) ExportFile(ctx context.Context, f *core.DriveFile) ([]byte, string, error) {
	if strings.HasPrefix(f.MimeType, googleDocsKind) {
		res, err := c.svc.Files.Export(f.ID, docxMimeType).Context(ctx).Download()
		if err != nil {
			return nil, "", fmt.Errorf("export %s as docx: %w", f.ID, err)
		}
		defer res.Body.Close()

		data, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, "", fmt.Errorf("read export body: %w", err)
		}
		return data, docxMimeType, nil
	}

	res, err := c.svc.Files.Get(f.ID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", f.ID, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read download body: %w", err)
	}
	return data, f.MimeType, nil
}

var _ core.DriveClient = (*DriveClient)(nil)
