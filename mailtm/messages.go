package mailtm

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Messages returns one page of message summaries, newest first.
func (c *Client) Messages(ctx context.Context, page int) ([]Message, error) {
	coll, err := c.messagePage(ctx, page)
	if err != nil {
		return nil, err
	}
	return coll.Members, nil
}

// AllMessages walks the message pages until every message reported by
// hydra:totalItems has been collected or an empty page comes back.
func (c *Client) AllMessages(ctx context.Context) ([]Message, error) {
	var all []Message
	for page := 1; ; page++ {
		coll, err := c.messagePage(ctx, page)
		if err != nil {
			return nil, err
		}
		all = append(all, coll.Members...)
		if len(coll.Members) == 0 || len(all) >= coll.TotalItems {
			break
		}
	}
	if all == nil {
		all = []Message{}
	}
	return all, nil
}

func (c *Client) messagePage(ctx context.Context, page int) (*collection[Message], error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	var coll collection[Message]
	if err := c.get(ctx, "/messages", pageQuery(page), &coll); err != nil {
		return nil, fmt.Errorf("fetching messages page %d: %w", page, err)
	}
	if coll.Members == nil {
		coll.Members = []Message{}
	}
	return &coll, nil
}

// Message returns a message with its bodies and attachment list.
func (c *Client) Message(ctx context.Context, id string) (*MessageDetail, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	var msg MessageDetail
	if err := c.get(ctx, "/messages/"+segment(id), nil, &msg); err != nil {
		return nil, fmt.Errorf("fetching message %s: %w", id, err)
	}
	return &msg, nil
}

// DeleteMessage deletes a message. It succeeds only on 204 No Content.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	c.logger.Debug("deleting message", "id", id)
	if err := c.delete(ctx, "/messages/"+segment(id)); err != nil {
		return fmt.Errorf("deleting message %s: %w", id, err)
	}
	return nil
}

// MarkMessageRead flags a message as seen and returns the updated message.
func (c *Client) MarkMessageRead(ctx context.Context, id string) (*MessageDetail, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	var msg MessageDetail
	body := map[string]bool{"seen": true}
	if err := c.patch(ctx, "/messages/"+segment(id), body, &msg); err != nil {
		return nil, fmt.Errorf("marking message %s as read: %w", id, err)
	}
	return &msg, nil
}

// MessageSource returns the raw RFC 5322 source of a message.
func (c *Client) MessageSource(ctx context.Context, id string) (*MessageSource, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	var src MessageSource
	if err := c.get(ctx, "/sources/"+segment(id), nil, &src); err != nil {
		return nil, fmt.Errorf("fetching source of message %s: %w", id, err)
	}
	return &src, nil
}

// MessageAttachments lists the attachments of a message. The endpoint
// returns a bare JSON array rather than a hydra collection.
func (c *Client) MessageAttachments(ctx context.Context, messageID string) ([]Attachment, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	var atts []Attachment
	path := "/messages/" + segment(messageID) + "/attachments"
	if err := c.get(ctx, path, nil, &atts); err != nil {
		return nil, fmt.Errorf("fetching attachments of message %s: %w", messageID, err)
	}
	if atts == nil {
		atts = []Attachment{}
	}
	return atts, nil
}

// Attachment returns the metadata of one attachment.
func (c *Client) Attachment(ctx context.Context, messageID, attachmentID string) (*Attachment, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	var att Attachment
	path := "/messages/" + segment(messageID) + "/attachments/" + segment(attachmentID)
	if err := c.get(ctx, path, nil, &att); err != nil {
		return nil, fmt.Errorf("fetching attachment %s of message %s: %w", attachmentID, messageID, err)
	}
	return &att, nil
}

// Download streams the content behind a downloadUrl (a message's .eml or an
// attachment) into w and returns the number of bytes written. Relative URLs
// are resolved against the base URL. The session token is only sent when the
// URL points at the API host.
func (c *Client) Download(ctx context.Context, downloadURL string, w io.Writer) (int64, error) {
	if err := c.requireAuth(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(downloadURL), nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing request GET %s: %w", downloadURL, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("mail.tm download", "path", downloadURL, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return 0, newResponseError(resp.StatusCode, http.MethodGet, downloadURL, body)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("downloading %s: %w", downloadURL, err)
	}
	return n, nil
}
