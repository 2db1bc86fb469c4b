// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

//go:build integration

package auth_test

import (
	"encoding/json"
	"net/http"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/gatekeeper/internal/auth"
)

var _ = Describe("Account sessions over HTTP", func() {
	BeforeEach(func() {
		env.reset()
	})

	Describe("registration and login", func() {
		It("creates a user account and logs in with any email casing", func() {
			account := register("Ada Lovelace", "Ada@Example.com", "secret1")
			Expect(account.Role).To(Equal(string(auth.RoleUser)))

			session := login("ada@example.com", "secret1")
			Expect(session.Account.ID).To(Equal(account.ID))
			Expect(session.AccessToken).NotTo(BeEmpty())
			Expect(session.RefreshToken).NotTo(BeEmpty())
		})

		It("rejects a duplicate email on the email field", func() {
			register("First", "dup@example.com", "secret1")

			resp := call(http.MethodPost, "/auth/register", "", map[string]string{
				"name": "Second", "email": "DUP@example.com", "password": "secret1", "confirmPassword": "secret1",
			})
			Expect(resp.Status).To(Equal(http.StatusUnprocessableEntity))
			Expect(resp.Errors).To(ContainElement(HaveField("Field", "email")))
		})

		It("answers unknown emails and wrong passwords identically", func() {
			register("Grace", "grace@example.com", "secret1")

			wrong := call(http.MethodPost, "/auth/login", "", map[string]string{"email": "grace@example.com", "password": "secret2"})
			unknown := call(http.MethodPost, "/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "secret1"})
			Expect(wrong.Status).To(Equal(http.StatusUnauthorized))
			Expect(unknown.Status).To(Equal(wrong.Status))
			Expect(unknown.Message).To(Equal(wrong.Message))
		})
	})

	Describe("refresh rotation", func() {
		var session sessionData

		BeforeEach(func() {
			register("Rotor", "rotor@example.com", "secret1")
			session = login("rotor@example.com", "secret1")
		})

		It("consumes the presented token", func() {
			first := call(http.MethodPost, "/accounts/refresh-token", "", map[string]string{"refreshToken": session.RefreshToken})
			Expect(first.Status).To(Equal(http.StatusOK))

			replay := call(http.MethodPost, "/accounts/refresh-token", "", map[string]string{"refreshToken": session.RefreshToken})
			Expect(replay.Status).To(Equal(http.StatusUnauthorized))
		})

		It("lets exactly one concurrent refresh win", func() {
			const callers = 6
			statuses := make([]int, callers)
			var wg sync.WaitGroup
			for i := range callers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					statuses[i] = call(http.MethodPost, "/accounts/refresh-token", "", map[string]string{"refreshToken": session.RefreshToken}).Status
				}()
			}
			wg.Wait()

			Expect(statuses).To(ContainElement(http.StatusOK))
			ok := 0
			for _, s := range statuses {
				if s == http.StatusOK {
					ok++
				}
			}
			Expect(ok).To(Equal(1))
		})

		It("ends the session on logout", func() {
			resp := call(http.MethodPost, "/accounts/logout", session.AccessToken, map[string]string{"refreshToken": session.RefreshToken})
			Expect(resp.Status).To(Equal(http.StatusOK))

			again := call(http.MethodPost, "/accounts/logout", session.AccessToken, map[string]string{"refreshToken": session.RefreshToken})
			Expect(again.Status).To(Equal(http.StatusOK))

			refresh := call(http.MethodPost, "/accounts/refresh-token", "", map[string]string{"refreshToken": session.RefreshToken})
			Expect(refresh.Status).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("password management", func() {
		It("changes the password and keeps the old one out", func() {
			register("Changer", "changer@example.com", "secret1")
			session := login("changer@example.com", "secret1")

			resp := call(http.MethodPut, "/accounts/change-password", session.AccessToken, map[string]string{
				"oldPassword": "secret1", "password": "secret2", "confirmPassword": "secret2",
			})
			Expect(resp.Status).To(Equal(http.StatusOK))

			old := call(http.MethodPost, "/auth/login", "", map[string]string{"email": "changer@example.com", "password": "secret1"})
			Expect(old.Status).To(Equal(http.StatusUnauthorized))
			login("changer@example.com", "secret2")
		})

		It("resets a forgotten password", func() {
			register("Forgetful", "forgetful@example.com", "secret1")

			resp := call(http.MethodPut, "/auth/forgot-password", "", map[string]string{
				"email": "forgetful@example.com", "newPassword": "secret3", "confirmNewPassword": "secret3",
			})
			Expect(resp.Status).To(Equal(http.StatusOK))
			login("forgetful@example.com", "secret3")
		})
	})

	Describe("role-gated listings", func() {
		It("limits the full listing to admins", func() {
			register("Admin", "admin@example.com", "secret1")
			register("Member", "member@example.com", "secret1")
			_, err := env.service.PromoteToAdmin(env.ctx, "admin@example.com")
			Expect(err).NotTo(HaveOccurred())

			member := login("member@example.com", "secret1")
			denied := call(http.MethodGet, "/accounts", member.AccessToken, nil)
			Expect(denied.Status).To(Equal(http.StatusForbidden))

			admin := login("admin@example.com", "secret1")
			all := call(http.MethodGet, "/accounts", admin.AccessToken, nil)
			Expect(all.Status).To(Equal(http.StatusOK))
			var accounts []accountData
			Expect(json.Unmarshal(all.Data, &accounts)).To(Succeed())
			Expect(accounts).To(HaveLen(2))

			others := call(http.MethodGet, "/accounts/list", member.AccessToken, nil)
			Expect(others.Status).To(Equal(http.StatusOK))
			Expect(json.Unmarshal(others.Data, &accounts)).To(Succeed())
			Expect(accounts).To(HaveLen(1))
			Expect(accounts[0].Email).To(Equal("admin@example.com"))
		})
	})

	Describe("expired session purge", func() {
		It("removes only expired records", func() {
			register("Purger", "purger@example.com", "secret1")
			login("purger@example.com", "secret1")

			n, err := env.rotator.PurgeExpired(env.ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())

			var remaining int
			Expect(env.pool.QueryRow(env.ctx, `SELECT count(*) FROM refresh_tokens`).Scan(&remaining)).To(Succeed())
			Expect(remaining).To(Equal(1))
		})
	})
})
