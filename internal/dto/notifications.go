package dto

type NotificationItem struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Message   *string                `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Read      bool                   `json:"read"`
	CreatedAt string                 `json:"created_at"`
}

type NotificationListPagination struct {
	Total       int `json:"total"`
	UnreadCount int `json:"unread_count"`
	Limit       int `json:"limit"`
	Offset      int `json:"offset"`
}

type NotificationListResponse struct {
	Notifications []NotificationItem         `json:"notifications"`
	Pagination    NotificationListPagination `json:"pagination"`
}

type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}
