package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/openquant/mmdash/internal/domain"
)

// fakeGateway is an in-memory exchange: placed orders rest on its book until
// a test removes them to simulate a fill or cancels them.
type fakeGateway struct {
	mu     sync.Mutex
	nextID int

	open     []domain.OpenOrder
	placed   []domain.OpenOrder
	canceled []string

	validateErr error
	placeErr    error
	// number of placements that still succeed once placeErr is set
	placeAllowed int
	listErr      error
	ticker       domain.Ticker
	tickerErr    error
}

func (g *fakeGateway) ValidateSymbol(ctx context.Context, symbol string) error {
	return g.validateErr
}

func (g *fakeGateway) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tickerErr != nil {
		return nil, g.tickerErr
	}
	t := g.ticker
	t.Symbol = symbol
	return &t, nil
}

func (g *fakeGateway) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, quantity, price float64) (*domain.PlacedOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.placeErr != nil && len(g.placed) >= g.placeAllowed {
		return nil, g.placeErr
	}
	g.nextID++
	o := domain.OpenOrder{
		OrderID:  fmt.Sprintf("ord-%d", g.nextID),
		Symbol:   symbol,
		Side:     side,
		Price:    price,
		Quantity: quantity,
	}
	g.open = append(g.open, o)
	g.placed = append(g.placed, o)
	return &domain.PlacedOrder{OrderID: o.OrderID, Status: "NEW"}, nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, orderID, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, orderID)
	for i, o := range g.open {
		if o.OrderID == orderID {
			g.open = append(g.open[:i], g.open[i+1:]...)
			break
		}
	}
	return nil
}

func (g *fakeGateway) ListOpenOrders(ctx context.Context, symbol string) ([]domain.OpenOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	return append([]domain.OpenOrder(nil), g.open...), nil
}

// fill removes an order from the book, simulating a full fill.
func (g *fakeGateway) fill(orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, o := range g.open {
		if o.OrderID == orderID {
			g.open = append(g.open[:i], g.open[i+1:]...)
			return
		}
	}
}

// partialFill marks part of an order's quantity as executed.
func (g *fakeGateway) partialFill(orderID string, filled float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.open {
		if g.open[i].OrderID == orderID {
			g.open[i].Filled = filled
			return
		}
	}
}

func (g *fakeGateway) setTicker(bid, ask, last float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ticker = domain.Ticker{Bid: bid, Ask: ask, Last: last}
}

func (g *fakeGateway) placedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.placed)
}

func (g *fakeGateway) canceledCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.canceled)
}

// fakeStore implements every repository in memory.
type fakeStore struct {
	mu sync.Mutex

	sessions map[string]*domain.Session
	statuses map[string][]domain.SessionStatus
	clusters map[string][]*domain.Cluster
	orders   map[string][]*domain.LiveOrder
	filled   map[string][]string
	creds    map[string]domain.Credentials

	createErr error
	listErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*domain.Session),
		statuses: make(map[string][]domain.SessionStatus),
		clusters: make(map[string][]*domain.Cluster),
		orders:   make(map[string][]*domain.LiveOrder),
		filled:   make(map[string][]string),
		creds:    make(map[string]domain.Credentials),
	}
}

func (s *fakeStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *fakeStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *fakeStore) ListSessionsByUser(ctx context.Context, userID int64) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) ListSessionsByStatus(ctx context.Context, statuses ...domain.SessionStatus) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*domain.Session
	for _, sess := range s.sessions {
		for _, st := range statuses {
			if sess.Status == st {
				cp := *sess
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = append(s.statuses[id], status)
	if sess, ok := s.sessions[id]; ok {
		sess.Status = status
		sess.ErrorMessage = errMsg
	}
	return nil
}

func (s *fakeStore) UpdateSessionCounters(ctx context.Context, id string, clusters, fills int64, pnl float64, uptimeSeconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.ClustersPlaced = clusters
		sess.Fills = fills
		sess.TotalPnL = pnl
		sess.UptimeSeconds = uptimeSeconds
	}
	return nil
}

func (s *fakeStore) InsertCluster(ctx context.Context, c *domain.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.clusters[c.SessionID] = append(s.clusters[c.SessionID], &cp)
	return nil
}

func (s *fakeStore) UpdateCluster(ctx context.Context, c *domain.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.clusters[c.SessionID] {
		if existing.Seq == c.Seq {
			cp := *c
			s.clusters[c.SessionID][i] = &cp
			return nil
		}
	}
	cp := *c
	s.clusters[c.SessionID] = append(s.clusters[c.SessionID], &cp)
	return nil
}

func (s *fakeStore) ListClustersBySession(ctx context.Context, sessionID string) ([]*domain.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Cluster(nil), s.clusters[sessionID]...), nil
}

func (s *fakeStore) InsertOrder(ctx context.Context, sessionID string, o *domain.LiveOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[sessionID] = append(s.orders[sessionID], &cp)
	return nil
}

func (s *fakeStore) MarkOrderFilled(ctx context.Context, sessionID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filled[sessionID] = append(s.filled[sessionID], orderID)
	return nil
}

func (s *fakeStore) ListOrdersBySession(ctx context.Context, sessionID string) ([]*domain.LiveOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.LiveOrder(nil), s.orders[sessionID]...), nil
}

func credKey(userID int64, exchangeID string) string {
	return fmt.Sprintf("%d/%s", userID, exchangeID)
}

func (s *fakeStore) SaveCredentials(ctx context.Context, userID int64, exchangeID string, creds domain.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[credKey(userID, exchangeID)] = creds
	return nil
}

func (s *fakeStore) GetCredentials(ctx context.Context, userID int64, exchangeID string) (*domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[credKey(userID, exchangeID)]
	if !ok {
		return nil, fmt.Errorf("no credentials for %s", exchangeID)
	}
	return &c, nil
}

func (s *fakeStore) ListCredentialExchanges(ctx context.Context, userID int64) ([]string, error) {
	return nil, nil
}

func (s *fakeStore) DeleteCredentials(ctx context.Context, userID int64, exchangeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, credKey(userID, exchangeID))
	return nil
}

func (s *fakeStore) statusHistory(id string) []domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SessionStatus(nil), s.statuses[id]...)
}

// fakeFeed is a stub external price feed.
type fakeFeed struct {
	mu    sync.Mutex
	price float64
	err   error
}

func (f *fakeFeed) FetchPrice(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.price, nil
}

func (f *fakeFeed) set(price float64) {
	f.mu.Lock()
	f.price = price
	f.mu.Unlock()
}

// fakeFactory hands back a fixed gateway regardless of exchange.
type fakeFactory struct {
	gateway domain.Gateway
	err     error
}

func (f *fakeFactory) New(exchangeID string, creds domain.Credentials) (domain.Gateway, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.gateway, nil
}
