package validator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"liquidity/internal/domain"
	"liquidity/internal/platform/config"
	"liquidity/internal/zone/journal"
	"liquidity/internal/zone/protocol"
	"liquidity/internal/zone/validation"
	pkgerrors "liquidity/pkg/errors"
)

// handleCommand runs the dispatch contract: validate, check redelivery
// idempotence, persist, apply, respond, notify. Returns true when the
// validator must stop (persistence failure).
func (v *Validator) handleCommand(m commandMessage, passivation *passivationTimer) bool {
	name := m.env.Command.CommandName()
	v.metrics.CommandsReceived.WithLabelValues(name).Inc()

	if errs := validation.ForCommand(v.st, m.env); len(errs) > 0 {
		v.metrics.CommandsRejected.WithLabelValues(name).Inc()
		m.reply <- commandResult{envelope: v.respond(m.env, protocol.CommandFailureResponse{Errors: errs})}
		return false
	}

	now := time.Now().UnixMilli()
	event, err := v.buildEvent(m, now)
	if err != nil {
		m.reply <- commandResult{err: err}
		return false
	}
	if event == nil {
		// Redelivery of an already-effective command: answer with the
		// current success value, persist nothing.
		passivation.CommandReceived()
		m.reply <- commandResult{envelope: v.respond(m.env, v.successResponse(m.env.Command, nil))}
		return false
	}

	envelope := protocol.ZoneEventEnvelope{
		RemoteAddress: m.env.RemoteAddress,
		PublicKey:     m.env.PublicKey,
		Timestamp:     now,
		Event:         event,
	}
	if err := v.persist(envelope); err != nil {
		v.logger.Error("event persistence failed, stopping validator", "error", err)
		m.reply <- commandResult{err: pkgerrors.New(pkgerrors.CodeUnavailable, "event persistence failed")}
		return true
	}

	wasEmpty := len(v.st.ConnectedClients) == 0
	v.apply(envelope)

	switch e := event.(type) {
	case protocol.ClientJoinedEvent:
		v.clients[e.ClientHandle] = m.client
		v.notificationSeqNrs[e.ClientHandle] = 0
		go v.watch(m.client)
	case protocol.ClientQuitEvent:
		delete(v.clients, e.ClientHandle)
		delete(v.notificationSeqNrs, e.ClientHandle)
	}
	v.gatePassivation(wasEmpty, passivation)
	passivation.CommandReceived()

	// The caller's response goes out before any notification of the same
	// event is delivered to other clients. A joining client's stream starts
	// after its own join; the join itself arrives in the response.
	exclude := ""
	if e, ok := event.(protocol.ClientJoinedEvent); ok {
		exclude = e.ClientHandle
	}
	m.reply <- commandResult{envelope: v.respond(m.env, v.successResponse(m.env.Command, event))}
	v.broadcast(notificationFor(event, envelope), exclude)
	v.maybeSnapshot()
	v.publishStatus()
	return false
}

// handleDisconnect persists a ClientQuit for a peer whose connection dropped,
// using the public key remembered at join time.
func (v *Validator) handleDisconnect(handle string, passivation *passivationTimer) bool {
	key, connected := v.st.ConnectedClients[handle]
	if !connected {
		return false
	}
	envelope := protocol.ZoneEventEnvelope{
		PublicKey: key,
		Timestamp: time.Now().UnixMilli(),
		Event:     protocol.ClientQuitEvent{ClientHandle: handle},
	}
	if err := v.persist(envelope); err != nil {
		v.logger.Error("disconnect persistence failed, stopping validator", "error", err)
		return true
	}
	v.apply(envelope)
	delete(v.clients, handle)
	delete(v.notificationSeqNrs, handle)
	v.gatePassivation(false, passivation)
	v.broadcast(protocol.ClientQuitNotification{ClientHandle: handle, PublicKey: key}, "")
	v.publishStatus()
	return false
}

func (v *Validator) persist(envelope protocol.ZoneEventEnvelope) error {
	payload, err := protocol.MarshalEventEnvelope(envelope)
	if err != nil {
		// Our own event failing to encode is a programming error.
		panic(fmt.Sprintf("marshal event envelope: %v", err))
	}
	seq, err := v.journal.Append(context.Background(), protocol.PersistenceID(v.zoneID), payload)
	if err != nil {
		return err
	}
	v.lastSequenceNr = seq
	v.eventsSinceSnap++
	v.metrics.EventsPersisted.Inc()
	return nil
}

// apply folds the envelope and enforces the state invariants. An invariant
// violation means the applier or a validator accepted something it must not
// have; crashing keeps the journal authoritative.
func (v *Validator) apply(envelope protocol.ZoneEventEnvelope) {
	v.st.Apply(envelope)
	if err := v.st.Check(); err != nil {
		panic(fmt.Sprintf("zone %s invariant violation: %v", v.zoneID, err))
	}
}

func (v *Validator) gatePassivation(wasEmpty bool, passivation *passivationTimer) {
	nowEmpty := len(v.st.ConnectedClients) == 0
	switch {
	case wasEmpty && !nowEmpty:
		passivation.Stop()
	case !wasEmpty && nowEmpty:
		passivation.Start()
	}
}

// buildEvent turns a validated command into its event. A nil event with a nil
// error marks the command as an idempotent redelivery.
func (v *Validator) buildEvent(m commandMessage, now int64) (protocol.ZoneEvent, error) {
	switch cmd := m.env.Command.(type) {
	case protocol.CreateZoneCommand:
		if v.st.Zone != nil {
			return nil, nil
		}
		equityOwner := domain.Member{
			ID:              "0",
			OwnerPublicKeys: []domain.PublicKey{cmd.EquityOwnerPublicKey},
			Name:            cmd.EquityOwnerName,
			Metadata:        cmd.EquityOwnerMetadata,
		}
		equityAccount := domain.Account{
			ID:             "0",
			OwnerMemberIDs: []domain.MemberID{equityOwner.ID},
			Name:           cmd.EquityAccountName,
			Metadata:       cmd.EquityAccountMetadata,
		}
		zone := &domain.Zone{
			ID:              m.env.ZoneID,
			EquityAccountID: equityAccount.ID,
			Members:         map[domain.MemberID]domain.Member{equityOwner.ID: equityOwner},
			Accounts:        map[domain.AccountID]domain.Account{equityAccount.ID: equityAccount},
			Transactions:    map[domain.TransactionID]domain.Transaction{},
			Created:         now,
			Expires:         now + config.ZoneLifetime.Milliseconds(),
			Name:            cmd.Name,
			Metadata:        cmd.Metadata,
		}
		return protocol.ZoneCreatedEvent{Zone: zone}, nil

	case protocol.JoinZoneCommand:
		if m.client == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInvalid, "join requires a notification channel")
		}
		if _, connected := v.st.ConnectedClients[m.client.Handle()]; connected {
			return nil, nil
		}
		return protocol.ClientJoinedEvent{ClientHandle: m.client.Handle()}, nil

	case protocol.QuitZoneCommand:
		if m.client == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInvalid, "quit requires a notification channel")
		}
		if _, connected := v.st.ConnectedClients[m.client.Handle()]; !connected {
			return nil, nil
		}
		return protocol.ClientQuitEvent{ClientHandle: m.client.Handle()}, nil

	case protocol.ChangeZoneNameCommand:
		if sameTag(cmd.Name, v.st.Zone.Name) {
			return nil, nil
		}
		return protocol.ZoneNameChangedEvent{Name: cmd.Name}, nil

	case protocol.CreateMemberCommand:
		member := domain.Member{
			ID:              domain.MemberID(strconv.Itoa(len(v.st.Zone.Members))),
			OwnerPublicKeys: cmd.OwnerPublicKeys,
			Name:            cmd.Name,
			Metadata:        cmd.Metadata,
		}
		return protocol.MemberCreatedEvent{Member: member}, nil

	case protocol.UpdateMemberCommand:
		if current, ok := v.st.Zone.Members[cmd.Member.ID]; ok && current.Equal(cmd.Member) {
			return nil, nil
		}
		return protocol.MemberUpdatedEvent{Member: cmd.Member}, nil

	case protocol.CreateAccountCommand:
		account := domain.Account{
			ID:             domain.AccountID(strconv.Itoa(len(v.st.Zone.Accounts))),
			OwnerMemberIDs: domain.NormalizeMemberIDs(cmd.OwnerMemberIDs),
			Name:           cmd.Name,
			Metadata:       cmd.Metadata,
		}
		return protocol.AccountCreatedEvent{Account: account}, nil

	case protocol.UpdateAccountCommand:
		account := cmd.Account
		account.OwnerMemberIDs = domain.NormalizeMemberIDs(account.OwnerMemberIDs)
		if current, ok := v.st.Zone.Accounts[account.ID]; ok && current.Equal(account) {
			return nil, nil
		}
		actingAs := cmd.ActingAs
		return protocol.AccountUpdatedEvent{ActingAs: &actingAs, Account: account}, nil

	case protocol.AddTransactionCommand:
		transaction := domain.Transaction{
			ID:          domain.TransactionID(strconv.Itoa(len(v.st.Zone.Transactions))),
			From:        cmd.From,
			To:          cmd.To,
			Value:       cmd.Value,
			Creator:     cmd.ActingAs,
			Created:     now,
			Description: cmd.Description,
			Metadata:    cmd.Metadata,
		}
		return protocol.TransactionAddedEvent{Transaction: transaction}, nil

	default:
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalid, "unknown command %T", m.env.Command)
	}
}

// successResponse builds the success value for a command against the current
// (post-apply) state. event is nil on the idempotent path, where only
// commands whose responses are derivable from state can land.
func (v *Validator) successResponse(cmd protocol.ZoneCommand, event protocol.ZoneEvent) protocol.ZoneResponse {
	switch cmd.(type) {
	case protocol.CreateZoneCommand:
		return protocol.CreateZoneResponse{Zone: v.st.Zone.Clone()}
	case protocol.JoinZoneCommand:
		clients := make(map[string]domain.PublicKey, len(v.st.ConnectedClients))
		for handle, key := range v.st.ConnectedClients {
			clients[handle] = key
		}
		return protocol.JoinZoneResponse{Zone: v.st.Zone.Clone(), ConnectedClients: clients}
	case protocol.QuitZoneCommand:
		return protocol.QuitZoneResponse{}
	case protocol.ChangeZoneNameCommand:
		return protocol.ChangeZoneNameResponse{}
	case protocol.CreateMemberCommand:
		return protocol.CreateMemberResponse{Member: event.(protocol.MemberCreatedEvent).Member}
	case protocol.UpdateMemberCommand:
		return protocol.UpdateMemberResponse{}
	case protocol.CreateAccountCommand:
		return protocol.CreateAccountResponse{Account: event.(protocol.AccountCreatedEvent).Account}
	case protocol.UpdateAccountCommand:
		return protocol.UpdateAccountResponse{}
	case protocol.AddTransactionCommand:
		return protocol.AddTransactionResponse{Transaction: event.(protocol.TransactionAddedEvent).Transaction}
	default:
		panic(fmt.Sprintf("no success response for %T", cmd))
	}
}

func (v *Validator) respond(env protocol.ZoneCommandEnvelope, response protocol.ZoneResponse) protocol.ZoneResponseEnvelope {
	return protocol.ZoneResponseEnvelope{
		CorrelationID: env.CorrelationID,
		ZoneID:        env.ZoneID,
		Response:      response,
	}
}

// notificationFor maps an applied event to the notification broadcast to
// connected clients. ZoneCreated is delivered only via the creator's
// response.
func notificationFor(event protocol.ZoneEvent, envelope protocol.ZoneEventEnvelope) protocol.ZoneNotification {
	switch e := event.(type) {
	case protocol.ZoneCreatedEvent:
		return nil
	case protocol.ClientJoinedEvent:
		return protocol.ClientJoinedNotification{ClientHandle: e.ClientHandle, PublicKey: envelope.PublicKey}
	case protocol.ClientQuitEvent:
		return protocol.ClientQuitNotification{ClientHandle: e.ClientHandle, PublicKey: envelope.PublicKey}
	case protocol.ZoneNameChangedEvent:
		return protocol.ZoneNameChangedNotification{Name: e.Name}
	case protocol.MemberCreatedEvent:
		return protocol.MemberCreatedNotification{Member: e.Member}
	case protocol.MemberUpdatedEvent:
		return protocol.MemberUpdatedNotification{Member: e.Member}
	case protocol.AccountCreatedEvent:
		return protocol.AccountCreatedNotification{Account: e.Account}
	case protocol.AccountUpdatedEvent:
		// Legacy events predate ActingAs; fall back to the smallest owner id
		// so the choice is deterministic.
		actingAs := domain.MinMemberID(e.Account.OwnerMemberIDs)
		if e.ActingAs != nil {
			actingAs = *e.ActingAs
		}
		return protocol.AccountUpdatedNotification{ActingAs: actingAs, Account: e.Account}
	case protocol.TransactionAddedEvent:
		return protocol.TransactionAddedNotification{Transaction: e.Transaction}
	default:
		return nil
	}
}

// broadcast fans a notification out to connected clients in join order,
// assigning each client its next gap-free sequence number. exclude names a
// client whose stream must not carry this notification.
func (v *Validator) broadcast(notification protocol.ZoneNotification, exclude string) {
	if notification == nil {
		return
	}
	for _, handle := range v.st.ClientOrder {
		if handle == exclude {
			continue
		}
		client, ok := v.clients[handle]
		if !ok {
			continue
		}
		seq := v.notificationSeqNrs[handle]
		client.Notify(protocol.ZoneNotificationEnvelope{
			Origin:         v.cfg.Origin,
			ZoneID:         v.zoneID,
			SequenceNumber: seq,
			Notification:   notification,
		})
		v.notificationSeqNrs[handle] = seq + 1
		v.metrics.NotificationsSent.Inc()
	}
}

func (v *Validator) maybeSnapshot() {
	if v.snapshots == nil || v.st.Zone == nil || v.eventsSinceSnap < v.cfg.SnapshotEvery {
		return
	}
	payload, err := protocol.MarshalSnapshot(v.st.Snapshot())
	if err != nil {
		v.logger.Warn("marshal snapshot failed", "error", err)
		return
	}
	err = v.snapshots.Save(context.Background(), journal.Snapshot{
		PersistenceID: protocol.PersistenceID(v.zoneID),
		SequenceNr:    v.lastSequenceNr,
		Payload:       payload,
	})
	if err != nil {
		// Snapshots are an optimisation; replay covers for a lost one.
		v.logger.Warn("save snapshot failed", "error", err)
		return
	}
	v.eventsSinceSnap = 0
}

func sameTag(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
