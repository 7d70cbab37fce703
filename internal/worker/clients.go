package worker

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

const clientBuffer = 16

// Client 表示一个打开的页面，通过 Messages 接收 worker 广播。
type Client struct {
	ID         string
	URL        string
	controlled bool
	ch         chan Message
}

// Messages 返回只读消息通道，Disconnect 后通道关闭。
func (c *Client) Messages() <-chan Message {
	return c.ch
}

// Clients 跟踪站点的页面客户端。
type Clients struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewClients 创建空的客户端集合。
func NewClients() *Clients {
	return &Clients{clients: make(map[string]*Client)}
}

// Connect 注册一个页面；controlled 表示是否已被 active worker 控制。
func (c *Clients) Connect(url string, controlled bool) *Client {
	client := &Client{
		ID:         uuid.NewString(),
		URL:        url,
		controlled: controlled,
		ch:         make(chan Message, clientBuffer),
	}
	c.mu.Lock()
	c.clients[client.ID] = client
	c.mu.Unlock()
	return client
}

// Disconnect 移除页面并关闭其消息通道，返回是否存在该页面。
func (c *Clients) Disconnect(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	client, ok := c.clients[id]
	if !ok {
		return false
	}
	delete(c.clients, id)
	close(client.ch)
	return true
}

// Claim 让 worker 立即控制所有已打开页面，返回页面数。
func (c *Clients) Claim() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, client := range c.clients {
		client.controlled = true
	}
	return len(c.clients)
}

// Broadcast 向所有受控页面投递消息；缓冲区已满的页面会丢弃该消息。
func (c *Clients) Broadcast(msg Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	delivered := 0
	for _, client := range c.clients {
		if !client.controlled {
			continue
		}
		select {
		case client.ch <- msg:
			delivered++
		default:
		}
	}
	return delivered
}

// Controlled 返回受控页面数量。
func (c *Clients) Controlled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, client := range c.clients {
		if client.controlled {
			n++
		}
	}
	return n
}

// ClientInfo 是页面的诊断快照。
type ClientInfo struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Controlled bool   `json:"controlled"`
}

// List 按 ID 排序返回页面快照。
func (c *Clients) List() []ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]ClientInfo, 0, len(c.clients))
	for _, client := range c.clients {
		result = append(result, ClientInfo{ID: client.ID, URL: client.URL, Controlled: client.controlled})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
