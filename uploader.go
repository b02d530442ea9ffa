package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/tonimelisma/linedrive-go/internal/fanout"
	"github.com/tonimelisma/linedrive-go/internal/graph"
)

// driveUploader puts fanout artifacts into a folder of each recipient's
// OneDrive, translating Graph failures into the kinds fanout tells apart.
type driveUploader struct {
	client *graph.Client
	folder string
}

var _ fanout.Uploader = (*driveUploader)(nil)

func newDriveUploader(client *graph.Client, folder string) *driveUploader {
	return &driveUploader{client: client, folder: folder}
}

func (u *driveUploader) Upload(ctx context.Context, accessToken string, art fanout.Artifact) (*fanout.RemoteFile, error) {
	item, err := u.client.
		WithToken(graph.StaticToken(accessToken)).
		Upload(ctx, u.folder, graph.SanitizeName(art.Name), art.Data)
	if err != nil {
		return nil, classifyGraphError(err)
	}

	return &fanout.RemoteFile{ID: item.ID, Name: item.Name, WebURL: item.WebURL}, nil
}

func classifyGraphError(err error) error {
	switch {
	case graph.IsCredentialRejected(err):
		return fmt.Errorf("%w: %w", fanout.ErrCredentialRejected, err)
	case errors.Is(err, graph.ErrThrottled):
		return fmt.Errorf("%w: %w", fanout.ErrRemoteRateLimited, err)
	default:
		return err
	}
}
