// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/gamesession/internal/account"
	"github.com/holomush/gamesession/internal/account/postgres"
	"github.com/holomush/gamesession/internal/peer"
	"github.com/holomush/gamesession/internal/session"
	"github.com/holomush/gamesession/internal/ticket"
	"github.com/holomush/gamesession/internal/ticket/tickettest"
	"github.com/holomush/gamesession/internal/web"
)

var _ = Describe("Session server", func() {
	var (
		keys     *tickettest.Keyring
		repo     *postgres.AccountRepository
		gateway  *peer.Gateway
		registry *session.Registry
		server   *httptest.Server
	)

	BeforeEach(func() {
		keys = tickettest.NewKeyring(GinkgoT())
		repo = postgres.NewAccountRepository(testPool)
		gateway = peer.NewGateway(peer.Options{})

		var err error
		registry, err = session.NewRegistry(keys.Verifier, repo, gateway, session.Options{})
		Expect(err).NotTo(HaveOccurred())

		handler := web.NewHandler(registry, gateway, web.Options{InstanceName: "e2e"})
		server = httptest.NewServer(handler.Routes())

		DeferCleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			registry.DestroyAll()
			_ = gateway.DisconnectAll(ctx, peer.ReasonServerStopping)
			server.Close()
			_, _ = testPool.Exec(context.Background(), `DELETE FROM accounts`)
		})
	})

	post := func(path string, id uuid.UUID, form url.Values) web.Envelope {
		req, err := http.NewRequest(http.MethodPost, server.URL+path, strings.NewReader(form.Encode()))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(web.HeaderSessionID, id.String())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()
		var env web.Envelope
		Expect(json.NewDecoder(resp.Body).Decode(&env)).To(Succeed())
		return env
	}

	login := func(platform string, issuer ticket.Issuer, b tickettest.Builder) (uuid.UUID, web.Envelope) {
		id := uuid.New()
		Expect(post("/api/session/start", id, nil).Status.ID).To(Equal(web.StatusSuccess))
		env := post("/api/session/login", id, url.Values{
			"platform": {platform},
			"ticket":   {keys.Encoded(GinkgoT(), issuer, b)},
		})
		return id, env
	}

	connectPeer := func() *websocket.Conn {
		processID := uuid.New()
		h := http.Header{}
		h.Set(peer.HeaderServerID, processID.String())
		ws, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/api/Gateway", h)
		Expect(err).NotTo(HaveOccurred())
		_ = resp.Body.Close()
		DeferCleanup(func() { _ = ws.Close() })
		Eventually(func() bool { return gateway.IsConnected(processID) }).Should(BeTrue())
		return ws
	}

	readEvent := func(ws *websocket.Conn) peer.Event {
		Expect(ws.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
		var ev peer.Event
		Expect(ws.ReadJSON(&ev)).To(Succeed())
		return ev
	}

	It("provisions an account on first login and reuses it afterwards", func() {
		alice := tickettest.Builder{UserID: 1001, Username: "Alice", IssuerID: 0x100}

		_, env := login("PS3", ticket.IssuerPSN, alice)
		Expect(env.Status.ID).To(Equal(web.StatusSuccess))

		stored, err := repo.GetByPSNID(context.Background(), 1001)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Username).To(Equal("Alice"))
		Expect(stored.ID).To(BeNumerically(">=", account.FirstID))

		_, env = login("PSP", ticket.IssuerPSN, alice)
		Expect(env.Status.ID).To(Equal(web.StatusSuccess))
		Expect(registry.AuthenticatedCount()).To(Equal(2))
	})

	It("persists a rename carried by a PSN ticket", func() {
		_, env := login("PS3", ticket.IssuerPSN, tickettest.Builder{UserID: 1001, Username: "Alice", IssuerID: 0x100})
		Expect(env.Status.ID).To(Equal(web.StatusSuccess))

		_, env = login("PS3", ticket.IssuerPSN, tickettest.Builder{UserID: 1001, Username: "Alicia", IssuerID: 0x100})
		Expect(env.Status.ID).To(Equal(web.StatusSuccess))

		stored, err := repo.GetByPSNID(context.Background(), 1001)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Username).To(Equal("Alicia"))
		_, err = repo.GetByUsername(context.Background(), "Alice")
		Expect(err).To(MatchError(account.ErrNotFound))
	})

	It("evicts the older session on a duplicate login and tells peers in order", func() {
		ws := connectPeer()
		alice := tickettest.Builder{UserID: 1001, Username: "Alice", IssuerID: 0x100}

		first, env := login("PS3", ticket.IssuerPSN, alice)
		Expect(env.Status.ID).To(Equal(web.StatusSuccess))
		second, env := login("PS3", ticket.IssuerPSN, alice)
		Expect(env.Status.ID).To(Equal(web.StatusSuccess))

		Expect(readEvent(ws)).To(SatisfyAll(
			HaveField("Event", peer.EventCreated), HaveField("SessionID", first)))
		Expect(readEvent(ws)).To(SatisfyAll(
			HaveField("Event", peer.EventDestroyed), HaveField("SessionID", first)))
		Expect(readEvent(ws)).To(SatisfyAll(
			HaveField("Event", peer.EventCreated), HaveField("SessionID", second)))

		Expect(post("/api/session/ping", first, nil).Status.ID).To(Equal(web.StatusPlayerNotFound))
		Expect(post("/api/session/ping", second, nil).Status.ID).To(Equal(web.StatusSuccess))
	})

	It("answers every verification failure the same way", func() {
		_, reserved := login("PS3", ticket.IssuerPSN, tickettest.Builder{UserID: 1001, Username: "ufg", IssuerID: 0x100})

		id := uuid.New()
		Expect(post("/api/session/start", id, nil).Status.ID).To(Equal(web.StatusSuccess))
		garbage := post("/api/session/login", id, url.Values{"platform": {"PSV"}, "ticket": {"not a ticket"}})

		Expect(reserved).To(Equal(garbage))
		Expect(reserved.Status.ID).To(Equal(web.StatusPlayerNotFound))
	})
})
