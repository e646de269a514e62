package source

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/expenseworks/receipts-index/internal/common"
	"github.com/expenseworks/receipts-index/internal/entity"
)

// IMAPConfig holds the connection parameters for one mailbox.
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Folder   string
	Timeout  time.Duration
}

// IMAPAdapter fetches unprocessed receipts from an IMAP mailbox over TLS.
type IMAPAdapter struct {
	cfg    IMAPConfig
	logger *slog.Logger
}

func NewIMAPAdapter(cfg IMAPConfig, logger *slog.Logger) *IMAPAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &IMAPAdapter{cfg: cfg, logger: logger}
}

func (a *IMAPAdapter) Type() string { return TypeEmail }

// FetchUnprocessed connects, selects the folder read-only and lists every
// message, pre-filtering those whose Message-ID is already indexed. Bodies
// are fetched lazily by the returned cursor.
func (a *IMAPAdapter) FetchUnprocessed(ctx context.Context, processed map[string]struct{}) (Cursor, error) {
	client, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := client.Select(a.cfg.Folder, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		client.Close()
		return nil, common.WrapError(err, "select folder "+a.cfg.Folder)
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		client.Close()
		return nil, common.WrapError(err, "search mailbox")
	}
	uids := searchData.AllUIDs()
	a.logger.Info("source.imap.listed", "folder", a.cfg.Folder, "messages", len(uids))

	pending, err := a.filterProcessed(client, uids, processed)
	if err != nil {
		client.Close()
		return nil, err
	}
	a.logger.Info("source.imap.pending", "folder", a.cfg.Folder, "pending", len(pending))

	return &imapCursor{
		client:    client,
		uids:      pending,
		skipped:   len(uids) - len(pending),
		processed: processed,
		logger:    a.logger,
	}, nil
}

func (a *IMAPAdapter) connect(ctx context.Context) (*imapclient.Client, error) {
	addr := net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port))
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: a.cfg.Timeout}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, common.WrapError(err, "dial "+addr)
	}

	client := imapclient.New(&timeoutConn{Conn: conn, timeout: a.cfg.Timeout}, nil)
	if err := client.Login(a.cfg.Username, a.cfg.Password).Wait(); err != nil {
		client.Close()
		return nil, common.WrapError(err, "imap login")
	}
	return client, nil
}

// filterProcessed drops messages whose Message-ID is already indexed.
// Messages without a Message-ID always pass: their hashed identity is only
// known after a full parse, and the repository still rejects duplicates.
func (a *IMAPAdapter) filterProcessed(client *imapclient.Client, uids []imap.UID, processed map[string]struct{}) ([]imap.UID, error) {
	if len(uids) == 0 || len(processed) == 0 {
		return uids, nil
	}

	var set imap.UIDSet
	set.AddNum(uids...)
	msgs, err := client.Fetch(set, &imap.FetchOptions{UID: true, Envelope: true}).Collect()
	if err != nil {
		return nil, common.WrapError(err, "fetch envelopes")
	}

	pending := make([]imap.UID, 0, len(msgs))
	for _, m := range msgs {
		if m.Envelope != nil {
			id := normalizeMessageID(m.Envelope.MessageID)
			if _, ok := processed[id]; ok && id != "" {
				continue
			}
		}
		pending = append(pending, m.UID)
	}
	return pending, nil
}

type imapCursor struct {
	client    *imapclient.Client
	uids      []imap.UID
	next      int
	skipped   int
	processed map[string]struct{}
	logger    *slog.Logger
}

func (c *imapCursor) Next(ctx context.Context) (*entity.RawMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.next >= len(c.uids) {
			return nil, ErrDone
		}
		uid := c.uids[c.next]
		c.next++

		body, err := c.fetchBody(uid)
		if err != nil {
			return nil, err
		}
		if body == nil {
			return nil, &ParseError{SourceID: fmt.Sprintf("uid:%d", uid), Cause: errors.New("empty body section")}
		}

		msg, err := ParseMessage(bytes.NewReader(body))
		if err != nil {
			return nil, &ParseError{SourceID: fmt.Sprintf("uid:%d", uid), Cause: err}
		}
		if _, ok := c.processed[msg.SourceID]; ok {
			c.skipped++
			c.logger.Debug("source.imap.skip_processed", "source_id", msg.SourceID)
			continue
		}
		return msg, nil
	}
}

func (c *imapCursor) Skipped() int { return c.skipped }

func (c *imapCursor) fetchBody(uid imap.UID) ([]byte, error) {
	section := &imap.FetchItemBodySection{}
	msgs, err := c.client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, common.WrapError(err, fmt.Sprintf("fetch uid %d", uid))
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0].FindBodySection(section), nil
}

func (c *imapCursor) Close() error {
	if err := c.client.Logout().Wait(); err != nil {
		c.logger.Debug("source.imap.logout_failed", "error", err)
	}
	return c.client.Close()
}

// timeoutConn refreshes the deadline on every read and write so a stalled
// server cannot hang the run; go-imap issues no per-command deadlines.
type timeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *timeoutConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *timeoutConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}
