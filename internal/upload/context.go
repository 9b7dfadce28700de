package upload

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Kind string

const (
	KindWorkspace Kind = "workspace"
	KindLink      Kind = "link"
)

type WorkspaceContext struct {
	WorkspaceID string `json:"workspaceId" validate:"required"`
	FolderID    string `json:"folderId,omitempty"`
	UserID      string `json:"userId" validate:"required"`
}

// LinkContext describes an anonymous upload through a shared link. The
// uploader name is checked by the link handler, not here.
type LinkContext struct {
	LinkID          string `json:"linkId" validate:"required"`
	UploaderName    string `json:"uploaderName" validate:"max=100"`
	UploaderEmail   string `json:"uploaderEmail,omitempty" validate:"omitempty,email"`
	UploaderMessage string `json:"uploaderMessage,omitempty" validate:"max=1000"`
	Password        string `json:"-"`
}

// Context is where an upload goes. Exactly one of Workspace and Link is set,
// matching Kind.
type Context struct {
	Kind      Kind              `json:"kind"`
	Workspace *WorkspaceContext `json:"workspace,omitempty"`
	Link      *LinkContext      `json:"link,omitempty"`
}

func WorkspaceTarget(userID, workspaceID, folderID string) Context {
	return Context{
		Kind:      KindWorkspace,
		Workspace: &WorkspaceContext{WorkspaceID: workspaceID, FolderID: folderID, UserID: userID},
	}
}

func LinkTarget(linkID, uploaderName, uploaderEmail, message, password string) Context {
	return Context{
		Kind: KindLink,
		Link: &LinkContext{
			LinkID:          linkID,
			UploaderName:    uploaderName,
			UploaderEmail:   uploaderEmail,
			UploaderMessage: message,
			Password:        password,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var ErrInvalidContext = errors.New("invalid upload context")

func (c Context) Validate() error {
	switch c.Kind {
	case KindWorkspace:
		if c.Workspace == nil || c.Link != nil {
			return fmt.Errorf("%w, workspace context expected", ErrInvalidContext)
		}
		if err := validate.Struct(c.Workspace); err != nil {
			return fmt.Errorf("%w, %w", ErrInvalidContext, err)
		}
	case KindLink:
		if c.Link == nil || c.Workspace != nil {
			return fmt.Errorf("%w, link context expected", ErrInvalidContext)
		}
		if err := validate.Struct(c.Link); err != nil {
			return fmt.Errorf("%w, %w", ErrInvalidContext, err)
		}
	default:
		return fmt.Errorf("%w, unknown kind %q", ErrInvalidContext, c.Kind)
	}

	return nil
}

// Owner is the user the upload is charged to when known up front. Link
// uploads are charged to the link owner, resolved by the handler.
func (c Context) Owner() string {
	if c.Kind == KindWorkspace && c.Workspace != nil {
		return c.Workspace.UserID
	}

	return ""
}
