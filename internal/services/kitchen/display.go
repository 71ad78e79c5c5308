package kitchen

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/services/notify"
	"smartdine/internal/store"
)

// Display is the kitchen terminal. It follows the orders collection through a
// poller and keeps its own copy of the queue, so a missed poll only delays the
// screen until the next one.
type Display struct {
	name   string
	poller *notify.Poller
	out    io.Writer
	logger *logger.Logger

	mu    sync.Mutex
	queue map[string]models.Order
}

// NewDisplay creates a kitchen display rendering to out
func NewDisplay(name string, poller *notify.Poller, out io.Writer, log *logger.Logger) *Display {
	return &Display{
		name:   name,
		poller: poller,
		out:    out,
		logger: log,
		queue:  make(map[string]models.Order),
	}
}

// Start polls until ctx is cancelled
func (d *Display) Start(ctx context.Context) error {
	requestID := logger.GenerateRequestID()
	d.logger.Info("display_started", fmt.Sprintf("Kitchen display %s started", d.name), requestID, nil)

	err := d.poller.Run(ctx, d.handle)

	d.logger.Info("graceful_shutdown", fmt.Sprintf("Kitchen display %s stopped", d.name), requestID, map[string]interface{}{
		"revision": d.poller.Since(),
	})
	return err
}

// Refresh runs a single poll round
func (d *Display) Refresh(ctx context.Context) error {
	return d.poller.Poll(ctx, d.handle)
}

func (d *Display) handle(cs store.ChangeSet) error {
	d.Apply(cs)
	return d.render(cs.Revision)
}

// Apply merges a change set into the queue. Served and cancelled orders
// leave the queue; a reset rebuilds it from scratch.
func (d *Display) Apply(cs store.ChangeSet) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cs.Reset {
		d.queue = make(map[string]models.Order)
	}
	for _, o := range cs.Orders {
		if o.Status.Terminal() {
			delete(d.queue, o.ID)
			continue
		}
		d.queue[o.ID] = o
	}
}

// Queue returns the active orders, oldest first
func (d *Display) Queue() []models.Order {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]models.Order, 0, len(d.queue))
	for _, o := range d.queue {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (d *Display) render(revision int64) error {
	var b strings.Builder
	queue := d.Queue()

	fmt.Fprintf(&b, "== %s: %d active orders (revision %d) ==\n", d.name, len(queue), revision)
	for _, o := range queue {
		b.WriteString(FormatOrder(o))
	}

	if _, err := io.WriteString(d.out, b.String()); err != nil {
		return fmt.Errorf("failed to render kitchen queue: %w", err)
	}
	return nil
}

// FormatOrder renders one ticket: a header line and one line per item
func FormatOrder(o models.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  table %s  %s  %s\n", o.Number, o.TableID, strings.ToUpper(string(o.Status)), o.CreatedAt.Format("15:04"))
	for _, item := range o.Items {
		fmt.Fprintf(&b, "  %dx %-24s %s", item.Quantity, item.Name, item.Status)
		if item.Notes != "" {
			fmt.Fprintf(&b, "  (%s)", item.Notes)
		}
		b.WriteString("\n")
	}
	return b.String()
}
