package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vaultops-systems/vaultops/internal/retry"
)

// ERPClient talks to an Odoo-compatible backend over its JSON-RPC
// endpoint. One authenticated uid is cached for the process lifetime.
type ERPClient struct {
	url  string
	db   string
	user string
	pass string
	http *http.Client

	uid int64
}

// NewERPClient validates the connection settings. It does not dial: the
// first call authenticates lazily so a dead ERP only fails dispatches,
// not process startup.
func NewERPClient(url, db, user, pass string) (*ERPClient, error) {
	if url == "" || db == "" {
		return nil, errors.New("erp client needs at least ERP_URL and ERP_DB")
	}
	return &ERPClient{
		url: url, db: db, user: user, pass: pass,
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	ID      int64          `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
		Data    struct {
			Message string `json:"message"`
		} `json:"data"`
	} `json:"error"`
}

func (c *ERPClient) call(ctx context.Context, service, method string, args []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  map[string]any{"service": service, "method": method, "args": args},
		ID:      time.Now().UnixNano(),
	})
	if err != nil {
		return retry.Permanent(fmt.Errorf("encoding rpc call: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return retry.Transient(fmt.Errorf("erp call %s.%s: %w", service, method, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return retry.Transient(fmt.Errorf("erp call %s.%s: status %d", service, method, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return retry.Permanent(fmt.Errorf("erp call %s.%s: status %d", service, method, resp.StatusCode))
	}

	var rpc rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return retry.Transient(fmt.Errorf("decoding erp response: %w", err))
	}
	if rpc.Error != nil {
		msg := rpc.Error.Data.Message
		if msg == "" {
			msg = rpc.Error.Message
		}
		return retry.Permanent(fmt.Errorf("erp %s.%s: %s", service, method, msg))
	}
	if out != nil {
		if err := json.Unmarshal(rpc.Result, out); err != nil {
			return retry.Permanent(fmt.Errorf("decoding erp result: %w", err))
		}
	}
	return nil
}

// execute runs a model method through the object service.
func (c *ERPClient) execute(ctx context.Context, model, method string, args []any, out any) error {
	if err := c.authenticate(ctx); err != nil {
		return err
	}
	return c.call(ctx, "object", "execute_kw",
		[]any{c.db, c.uid, c.pass, model, method, args}, out)
}

func (c *ERPClient) authenticate(ctx context.Context) error {
	if c.uid != 0 {
		return nil
	}
	var uid int64
	if err := c.call(ctx, "common", "authenticate", []any{c.db, c.user, c.pass, map[string]any{}}, &uid); err != nil {
		return err
	}
	if uid == 0 {
		return retry.Permanent(fmt.Errorf("erp rejected credentials for %s", c.user))
	}
	c.uid = uid
	return nil
}

func (c *ERPClient) EnsurePartner(ctx context.Context, name string) (int64, error) {
	var ids []int64
	err := c.execute(ctx, "res.partner", "search",
		[]any{[]any{[]any{"name", "=", name}}}, &ids)
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		return ids[0], nil
	}

	var id int64
	err = c.execute(ctx, "res.partner", "create",
		[]any{map[string]any{"name": name}}, &id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (c *ERPClient) CreateInvoice(ctx context.Context, partnerID int64, amount float64, currency, memo string) (string, error) {
	return c.createDocument(ctx, "out_invoice", partnerID, amount, currency, memo)
}

func (c *ERPClient) CreateQuotation(ctx context.Context, partnerID int64, amount float64, currency, memo string) (string, error) {
	var id int64
	err := c.execute(ctx, "sale.order", "create", []any{map[string]any{
		"partner_id": partnerID,
		"note":       memo,
	}}, &id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("sale.order/%d", id), nil
}

func (c *ERPClient) RegisterPayment(ctx context.Context, partnerID int64, amount float64, currency, memo string) (string, error) {
	var id int64
	err := c.execute(ctx, "account.payment", "create", []any{map[string]any{
		"partner_id": partnerID,
		"amount":     amount,
		"ref":        memo,
	}}, &id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("account.payment/%d", id), nil
}

func (c *ERPClient) createDocument(ctx context.Context, moveType string, partnerID int64, amount float64, currency, memo string) (string, error) {
	var id int64
	err := c.execute(ctx, "account.move", "create", []any{map[string]any{
		"move_type":  moveType,
		"partner_id": partnerID,
		"invoice_line_ids": []any{
			[]any{0, 0, map[string]any{"name": memo, "quantity": 1, "price_unit": amount}},
		},
	}}, &id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("account.move/%d", id), nil
}
