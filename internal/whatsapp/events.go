package whatsapp

import (
	"fmt"

	"wa-bot-go/internal/automation"
	"wa-bot-go/internal/logger"
	"wa-bot-go/internal/utils"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// handleEvent maps whatsmeow events onto the automation observer
func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		logger.Info("Socket connected to WhatsApp")
		c.observer.OnStateChange(automation.StateConnected)

	case *events.PairSuccess:
		logger.Info("Device paired", "jid", v.ID.String(), "platform", v.Platform)

	case *events.PairError:
		c.observer.OnAuthFailure(fmt.Errorf("pairing failed: %w", v.Error))

	case *events.LoggedOut:
		logger.Warn("Logged out from WhatsApp", "onConnect", v.OnConnect)
		c.observer.OnStateChange(automation.StateUnpaired)

	case *events.StreamReplaced:
		logger.Warn("Stream replaced, another session took over")
		c.observer.OnStateChange(automation.StateConflict)

	case *events.ConnectFailure:
		if v.Reason.IsLoggedOut() {
			c.observer.OnAuthFailure(fmt.Errorf("connect failure: %v %s", v.Reason, v.Message))
			return
		}
		logger.Warn("Connect failure", "reason", fmt.Sprint(v.Reason), "message", v.Message)
		c.observer.OnStateChange(automation.StateUnlaunched)

	case *events.Disconnected:
		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if !closing {
			logger.Warn("Socket disconnected from WhatsApp")
			c.observer.OnStateChange(automation.StateUnlaunched)
		}

	case *events.KeepAliveTimeout:
		c.observer.OnError(fmt.Errorf("keepalive timeout after %d errors", v.ErrorCount))

	case *events.StreamError:
		c.observer.OnError(fmt.Errorf("stream error: %s", v.Code))

	case *events.Message:
		c.handleMessage(v)
	}
}

func (c *Client) handleMessage(v *events.Message) {
	if v.Info.IsFromMe || v.Info.IsGroup {
		return
	}

	msg := v.Message
	body := msg.GetConversation()
	if body == "" {
		body = msg.GetExtendedTextMessage().GetText()
	}
	if body == "" {
		return
	}

	phone, ok := resolvePhone(v.Info, c.lids, c.lookupPN)
	if !ok {
		logger.Debug("Skipping message without a phone sender", "chat", v.Info.Chat.String())
		return
	}

	c.observer.OnNewMessage(phone, body)
}

func (c *Client) lookupPN(lid types.JID) (types.JID, error) {
	return c.wa.Store.LIDs.GetPNForLID(c.life, lid)
}

// resolvePhone returns the sender's phone user. LID senders are resolved
// through the alternate address, the cache, then the device store.
func resolvePhone(info types.MessageInfo, lids *utils.LIDCache, lookup func(types.JID) (types.JID, error)) (string, bool) {
	var lid types.JID
	for _, jid := range []types.JID{info.Chat, info.Sender} {
		switch jid.Server {
		case types.DefaultUserServer:
			return jid.ToNonAD().User, true
		case types.HiddenUserServer:
			if lid.IsEmpty() {
				lid = jid.ToNonAD()
			}
		}
	}
	if lid.IsEmpty() {
		return "", false
	}

	remember := func(phone string) {
		if err := lids.Set(lid.User, phone); err != nil {
			logger.Warn("Failed to persist LID mapping", "error", err)
		}
	}

	if alt := info.SenderAlt; alt.Server == types.DefaultUserServer {
		phone := alt.ToNonAD().User
		remember(phone)
		return phone, true
	}
	if phone, ok := lids.Get(lid.User); ok {
		return phone, true
	}
	if lookup == nil {
		return "", false
	}
	pn, err := lookup(lid)
	if err != nil || pn.Server != types.DefaultUserServer {
		return "", false
	}
	remember(pn.User)
	return pn.User, true
}
