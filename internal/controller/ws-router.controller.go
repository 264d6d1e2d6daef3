package controller

import (
	"github.com/sharetube/watchsync/pkg/wsrouter"
)

func (c controller) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New()
	mux.Use(c.wsRequestIdWSMw(), c.loggerWSMw())
	mux.SetErrorHandler(c.handleWSError)

	// presence
	wsrouter.Handle(mux, "ALIVE", c.handleAlive)

	// sync
	wsrouter.Handle(mux, "SYNC_REQUEST", c.handleSyncRequest)
	wsrouter.Handle(mux, "UPDATE_PLAYBACK", c.handleUpdatePlayback)
	wsrouter.Handle(mux, "REPORT_POSITION", c.handleReportPosition)
	wsrouter.Handle(mux, "UPDATE_NETWORK_QUALITY", c.handleUpdateNetworkQuality)

	// host
	wsrouter.Handle(mux, "TRANSFER_HOST", c.handleTransferHost)

	return mux
}
