package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"smartdine/internal/models"
	"smartdine/internal/services/auth"
	"smartdine/internal/services/billing"
	"smartdine/internal/services/menu"
	"smartdine/internal/services/order"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type createTableRequest struct {
	Label    string `json:"label"`
	Capacity int    `json:"capacity"`
}

type addItemsRequest struct {
	Items []order.ItemRequest `json:"items"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "username and password are required")
		return
	}
	session, err := s.services.Auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) listTables(c *gin.Context) {
	tables, err := s.services.Tables.List(c.Request.Context())
	if err != nil {
		s.writeError(c, "list_tables", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

func (s *Server) createTable(c *gin.Context) {
	var req createTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON format")
		return
	}
	t, err := s.services.Tables.CreateTable(c.Request.Context(), mustActor(c), req.Label, req.Capacity)
	if err != nil {
		s.writeError(c, "create_table", err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) deleteTable(c *gin.Context) {
	if err := s.services.Tables.DeleteTable(c.Request.Context(), mustActor(c), c.Param("id")); err != nil {
		s.writeError(c, "delete_table", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) reserveTable(c *gin.Context) {
	t, err := s.services.Tables.SetReserved(c.Request.Context(), mustActor(c), c.Param("id"))
	if err != nil {
		s.writeError(c, "reserve_table", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) clearReservation(c *gin.Context) {
	t, err := s.services.Tables.ClearReserved(c.Request.Context(), mustActor(c), c.Param("id"))
	if err != nil {
		s.writeError(c, "clear_reservation", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) releaseTable(c *gin.Context) {
	t, err := s.services.Tables.ReleaseTable(c.Request.Context(), mustActor(c), c.Param("id"))
	if err != nil {
		s.writeError(c, "release_table", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) listMenu(c *gin.Context) {
	items, err := s.services.Menu.List(c.Request.Context(), c.Query("available") == "true")
	if err != nil {
		s.writeError(c, "list_menu", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) updateMenuItem(c *gin.Context) {
	var req menu.Update
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON format")
		return
	}
	m, err := s.services.Menu.UpdateItem(c.Request.Context(), mustActor(c), c.Param("id"), req)
	if err != nil {
		s.writeError(c, "update_menu_item", err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) placeOrder(c *gin.Context) {
	var req order.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON format")
		return
	}

	s.logger.Debug("order_received", "Received place order request", requestIDOf(c), map[string]interface{}{
		"table_id":   req.TableID,
		"item_count": len(req.Items),
	})
	o, err := s.services.Orders.PlaceOrder(c.Request.Context(), mustActor(c), req)
	if err != nil {
		s.writeError(c, "place_order", err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (s *Server) listOrders(c *gin.Context) {
	f := order.Filter{
		CreatedBy:  c.Query("created_by"),
		ActiveOnly: c.Query("active") == "true",
	}
	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseOrderStatus(raw)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		f.Status = status
	}

	orders, err := s.services.Orders.ListOrders(c.Request.Context(), f)
	if err != nil {
		s.writeError(c, "list_orders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getOrder(c *gin.Context) {
	o, err := s.services.Orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, "get_order", err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) orderHistory(c *gin.Context) {
	history, err := s.services.Orders.OrderHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, "order_history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (s *Server) addItems(c *gin.Context) {
	var req addItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON format")
		return
	}
	o, err := s.services.Orders.AddItems(c.Request.Context(), mustActor(c), c.Param("id"), req.Items)
	if err != nil {
		s.writeError(c, "add_items", err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) advanceOrder(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}
	target, err := models.ParseOrderStatus(req.Status)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	o, err := s.services.Orders.AdvanceOrderStatus(c.Request.Context(), mustActor(c), c.Param("id"), target)
	if err != nil {
		s.writeError(c, "advance_order", err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) advanceItem(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}
	target, err := models.ParseItemStatus(req.Status)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	o, err := s.services.Orders.AdvanceItemStatus(c.Request.Context(), mustActor(c), c.Param("id"), c.Param("item_id"), target)
	if err != nil {
		s.writeError(c, "advance_item", err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) serveOrder(c *gin.Context) {
	o, err := s.services.Orders.ServeOrder(c.Request.Context(), mustActor(c), c.Param("id"))
	if err != nil {
		s.writeError(c, "serve_order", err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) cancelOrder(c *gin.Context) {
	o, err := s.services.Orders.CancelOrder(c.Request.Context(), mustActor(c), c.Param("id"))
	if err != nil {
		s.writeError(c, "cancel_order", err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) createBill(c *gin.Context) {
	var req billing.CreateBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON format")
		return
	}
	b, err := s.services.Bills.CreateBill(c.Request.Context(), mustActor(c), req)
	if err != nil {
		s.writeError(c, "create_bill", err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (s *Server) pendingBills(c *gin.Context) {
	bills, err := s.services.Bills.PendingBills(c.Request.Context())
	if err != nil {
		s.writeError(c, "pending_bills", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bills": bills})
}

func (s *Server) getBill(c *gin.Context) {
	b, err := s.services.Bills.GetBill(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, "get_bill", err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) payBill(c *gin.Context) {
	b, err := s.services.Bills.Pay(c.Request.Context(), mustActor(c), c.Param("id"))
	if err != nil {
		s.writeError(c, "pay_bill", err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) voidBill(c *gin.Context) {
	b, err := s.services.Bills.Void(c.Request.Context(), mustActor(c), c.Param("id"))
	if err != nil {
		s.writeError(c, "void_bill", err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) changesSince(c *gin.Context) {
	since, err := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		badRequest(c, "since must be an integer revision")
		return
	}
	cs, err := s.services.Changes.ChangesSince(c.Request.Context(), mustActor(c), models.Collection(c.Param("collection")), since)
	if err != nil {
		s.writeError(c, "changes_since", err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (s *Server) revisions(c *gin.Context) {
	revs, err := s.services.Changes.Revisions(c.Request.Context(), mustActor(c))
	if err != nil {
		s.writeError(c, "revisions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revisions": revs})
}

func (s *Server) salesReport(c *gin.Context) {
	from, to, ok := timeRange(c)
	if !ok {
		return
	}
	summary, err := s.services.Reports.Sales(c.Request.Context(), mustActor(c), from, to)
	if err != nil {
		s.writeError(c, "sales_report", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) topItemsReport(c *gin.Context) {
	from, to, ok := timeRange(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil {
		badRequest(c, "limit must be an integer")
		return
	}
	items, err := s.services.Reports.TopItems(c.Request.Context(), mustActor(c), from, to, limit)
	if err != nil {
		s.writeError(c, "top_items_report", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) occupancyReport(c *gin.Context) {
	occ, err := s.services.Reports.TableOccupancy(c.Request.Context(), mustActor(c))
	if err != nil {
		s.writeError(c, "occupancy_report", err)
		return
	}
	c.JSON(http.StatusOK, occ)
}

func (s *Server) waitersReport(c *gin.Context) {
	from, to, ok := timeRange(c)
	if !ok {
		return
	}
	stats, err := s.services.Reports.Waiters(c.Request.Context(), mustActor(c), from, to)
	if err != nil {
		s.writeError(c, "waiters_report", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"waiters": stats})
}

// timeRange reads RFC 3339 from/to query parameters; absent bounds are open
func timeRange(c *gin.Context) (time.Time, time.Time, bool) {
	var from, to time.Time
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &from}, {"to", &to}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, p.name+" must be an RFC 3339 timestamp")
			return time.Time{}, time.Time{}, false
		}
		*p.dst = t
	}
	return from, to, true
}

func (s *Server) revenueByDateReport(c *gin.Context) {
	from, to, ok := timeRange(c)
	if !ok {
		return
	}
	days, err := s.services.Reports.RevenueByDate(c.Request.Context(), mustActor(c), from, to)
	if err != nil {
		s.writeError(c, "revenue_by_date_report", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days})
}

func (s *Server) categorySalesReport(c *gin.Context) {
	from, to, ok := timeRange(c)
	if !ok {
		return
	}
	rows, err := s.services.Reports.CategorySales(c.Request.Context(), mustActor(c), from, to)
	if err != nil {
		s.writeError(c, "category_sales_report", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": rows})
}

func (s *Server) hourlyPatternReport(c *gin.Context) {
	from, to, ok := timeRange(c)
	if !ok {
		return
	}
	hours, err := s.services.Reports.HourlyPattern(c.Request.Context(), mustActor(c), from, to)
	if err != nil {
		s.writeError(c, "hourly_pattern_report", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hours": hours})
}

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.services.Auth.ListUsers(c.Request.Context(), mustActor(c))
	if err != nil {
		s.writeError(c, "list_users", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) createUser(c *gin.Context) {
	var req auth.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON format")
		return
	}
	u, err := s.services.Auth.CreateUser(c.Request.Context(), mustActor(c), req)
	if err != nil {
		s.writeError(c, "create_user", err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *Server) updateUser(c *gin.Context) {
	var req auth.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON format")
		return
	}
	u, err := s.services.Auth.UpdateUser(c.Request.Context(), mustActor(c), c.Param("id"), req)
	if err != nil {
		s.writeError(c, "update_user", err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) deactivateUser(c *gin.Context) {
	u, err := s.services.Auth.DeactivateUser(c.Request.Context(), mustActor(c), c.Param("id"))
	if err != nil {
		s.writeError(c, "deactivate_user", err)
		return
	}
	c.JSON(http.StatusOK, u)
}
