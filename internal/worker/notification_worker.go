package worker

import (
	"github.com/reshala/support-desk/internal/directory"
	"github.com/reshala/support-desk/internal/events"
	"github.com/reshala/support-desk/internal/service"
)

// StartNotificationWorker registers the lifecycle subscribers on the dispatcher.
// The directory subscribes first so routing is current before audit handlers run.
func StartNotificationWorker(dispatcher events.Dispatcher, dir *directory.Directory, notificationService *service.NotificationService) {
	if dir != nil {
		dir.Subscribe(dispatcher)
	}
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}
