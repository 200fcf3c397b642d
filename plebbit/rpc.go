package plebbit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"plebfeed/models"
)

var _ API = (*Client)(nil)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      *uint64       `json:"id,omitempty"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Params  *struct {
		Subscription uint64          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params,omitempty"`
}

type rpcResponse struct {
	result json.RawMessage
	err    error
}

func (c *Client) dispatch(data []byte) {
	var msg rpcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warnf("Discarding unparseable RPC message: %v", err)
		return
	}

	// Subscription notification. The send happens under c.mu: channel closes
	// (unsubscribe, failAll) also hold the lock, so a notification in flight
	// can never hit a just-closed channel.
	if msg.ID == nil && msg.Params != nil {
		c.mu.Lock()
		if ch, ok := c.subs[msg.Params.Subscription]; ok {
			select {
			case ch <- msg.Params.Result:
			default:
				// Slow consumer; the next notification supersedes this one.
			}
		}
		c.mu.Unlock()
		return
	}

	// Call response
	if msg.ID != nil {
		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		if ok {
			delete(c.pending, *msg.ID)
		}
		c.mu.Unlock()
		if ok {
			if msg.Error != nil {
				ch <- &rpcResponse{err: msg.Error}
			} else {
				ch <- &rpcResponse{result: msg.Result}
			}
		}
	}
}

// call performs one JSON-RPC request/response round trip.
func (c *Client) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	start := time.Now()
	result, err := c.doCall(ctx, method, params...)
	rpcCallDuration.Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	rpcCalls.WithLabelValues(method, outcome).Inc()

	return result, err
}

func (c *Client) doCall(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("not connected")
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *rpcResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      &id,
		Method:  method,
		Params:  params,
	}

	if err := c.write(conn, &req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("write error: %w", err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.err != nil {
			return nil, resp.err
		}
		return resp.result, nil
	}
}

func (c *Client) write(conn *websocket.Conn, req *rpcRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(req)
}

// subscribe starts a server-side subscription and returns its id together
// with the channel notifications arrive on.
func (c *Client) subscribe(ctx context.Context, method string, params ...interface{}) (uint64, <-chan json.RawMessage, error) {
	result, err := c.call(ctx, method, params...)
	if err != nil {
		return 0, nil, err
	}

	var subID uint64
	if err := json.Unmarshal(result, &subID); err != nil {
		return 0, nil, fmt.Errorf("unexpected subscription id: %w", err)
	}

	ch := make(chan json.RawMessage, 8)
	c.mu.Lock()
	c.subs[subID] = ch
	c.mu.Unlock()

	return subID, ch, nil
}

func (c *Client) unsubscribe(subID uint64) {
	c.mu.Lock()
	if ch, ok := c.subs[subID]; ok {
		close(ch)
		delete(c.subs, subID)
	}
	c.mu.Unlock()

	// Best effort; the server drops the subscription with the connection
	// anyway.
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	if _, err := c.call(ctx, "unsubscribe", subID); err != nil {
		log.Debugf("Unsubscribe %d failed: %v", subID, err)
	}
}

// ResolveSubplebbit resolves a community address to its current handle.
func (c *Client) ResolveSubplebbit(ctx context.Context, address string) (*models.Subplebbit, error) {
	result, err := c.call(ctx, "getSubplebbit", address)
	if err != nil {
		return nil, fmt.Errorf("could not resolve subplebbit %s: %w", models.ShortAddress(address), err)
	}

	var sub models.Subplebbit
	if err := json.Unmarshal(result, &sub); err != nil {
		return nil, fmt.Errorf("could not parse subplebbit %s: %w", models.ShortAddress(address), err)
	}
	return &sub, nil
}

// GetPage fetches one page of a community's posts index.
func (c *Client) GetPage(ctx context.Context, address string, pageCid string) (*models.Page, error) {
	result, err := c.call(ctx, "getSubplebbitPage", pageCid, address)
	if err != nil {
		return nil, fmt.Errorf("could not get page %s: %w", pageCid, err)
	}

	var page models.Page
	if err := json.Unmarshal(result, &page); err != nil {
		return nil, fmt.Errorf("could not parse page %s: %w", pageCid, err)
	}
	return &page, nil
}

// GetComment fetches a single post by cid.
func (c *Client) GetComment(ctx context.Context, cid string) (*models.Post, error) {
	result, err := c.call(ctx, "getComment", cid)
	if err != nil {
		return nil, fmt.Errorf("could not get comment %s: %w", cid, err)
	}

	var post models.Post
	if err := json.Unmarshal(result, &post); err != nil {
		return nil, fmt.Errorf("could not parse comment %s: %w", cid, err)
	}
	return &post, nil
}

// AwaitCommentUpdate waits for the first comment update carrying a resolved
// timestamp, bounded by wait. Timing out without an update is a valid
// outcome, not an error: the caller proceeds with the last observed state.
func (c *Client) AwaitCommentUpdate(ctx context.Context, cid string, wait time.Duration) (*models.CommentUpdate, bool, error) {
	subID, updates, err := c.subscribe(ctx, "commentUpdate", cid)
	if err != nil {
		return nil, false, fmt.Errorf("could not subscribe to updates for %s: %w", cid, err)
	}
	defer c.unsubscribe(subID)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-timer.C:
			return nil, false, nil
		case raw, ok := <-updates:
			if !ok {
				// Connection lost mid-wait; same as an unresolved timeout.
				return nil, false, nil
			}
			var update models.CommentUpdate
			if err := json.Unmarshal(raw, &update); err != nil {
				log.Debugf("Discarding unparseable comment update for %s: %v", cid, err)
				continue
			}
			if update.UpdatedAt != 0 {
				return &update, true, nil
			}
		}
	}
}
