package confstore_test

import (
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/embercd/embercd/irc/confstore"
)

var _ = Describe("Store", func() {
	var store *confstore.Store

	BeforeEach(func() {
		store = confstore.NewStore()
	})

	Describe("CheckDLine", func() {
		It("lets an exempt address through even when a matching D-line exists", func() {
			now := time.Now()
			store.Install(&confstore.ConfItem{
				Kind:        confstore.KindDLine,
				HostPattern: "10.0.0.0/24",
				IP:          "10.0.0.0",
				CIDRBits:    24,
				Created:     now,
			})
			store.Install(&confstore.ConfItem{
				Kind:        confstore.KindExemptDLine,
				HostPattern: "10.0.0.0/24",
				IP:          "10.0.0.0",
				CIDRBits:    24,
				Created:     now,
			})

			banned, _ := store.CheckDLine(net.ParseIP("10.0.0.5"))
			Expect(banned).To(BeFalse())
		})

		It("reports the D-line when no exemption exists", func() {
			store.Install(&confstore.ConfItem{
				Kind:        confstore.KindDLine,
				HostPattern: "10.0.0.0/24",
				IP:          "10.0.0.0",
				CIDRBits:    24,
				Created:     time.Now(),
			})

			banned, item := store.CheckDLine(net.ParseIP("10.0.0.5"))
			Expect(banned).To(BeTrue())
			Expect(item).NotTo(BeNil())
		})
	})

	Describe("SweepMin", func() {
		It("expires a temp ban whose Hold deadline has passed", func() {
			now := time.Now()
			item := &confstore.ConfItem{
				Kind:        confstore.KindKill,
				HostPattern: "baduser@*.example.net",
				Created:     now.Add(-2 * time.Minute),
				Hold:        now.Add(-time.Minute),
			}
			store.Install(item)

			expired := store.SweepMin(now)
			Expect(expired).To(ContainElement(item))
			Expect(item.Status()).To(Equal(confstore.StatusIllegal))
		})

		It("leaves an unexpired temp ban installed", func() {
			now := time.Now()
			item := &confstore.ConfItem{
				Kind:        confstore.KindKill,
				HostPattern: "baduser@*.example.net",
				Created:     now,
				Hold:        now.Add(time.Hour),
			}
			store.Install(item)

			expired := store.SweepMin(now)
			Expect(expired).To(BeEmpty())
		})
	})

	Describe("InstallPropagated", func() {
		It("applies the replace-old rule by extending lifetime past the prior ban's", func() {
			now := time.Now()
			original := &confstore.ConfItem{
				Kind:        confstore.KindKill,
				UserPattern: "*",
				HostPattern: "*.evil.example.net",
				Created:     now,
				Hold:        now.Add(time.Hour),
				Lifetime:    now.Add(2 * time.Hour),
			}
			store.InstallPropagated(original)

			replacement := &confstore.ConfItem{
				Kind:        confstore.KindKill,
				UserPattern: "*",
				HostPattern: "*.evil.example.net",
				Created:     now.Add(time.Minute),
				Hold:        now.Add(time.Minute),
				Lifetime:    now.Add(time.Minute),
			}
			store.InstallPropagated(replacement)

			Expect(replacement.Lifetime).To(BeTemporally(">=", original.Lifetime))
			Expect(original.Status()).To(Equal(confstore.StatusIllegal))
		})
	})

	Describe("PropagatedSnapshot", func() {
		It("returns every currently-propagated item", func() {
			now := time.Now()
			a := &confstore.ConfItem{
				Kind: confstore.KindKill, UserPattern: "a", HostPattern: "a.example.net",
				Created: now, Hold: now.Add(time.Hour), Lifetime: now.Add(2 * time.Hour),
			}
			b := &confstore.ConfItem{
				Kind: confstore.KindKill, UserPattern: "b", HostPattern: "b.example.net",
				Created: now, Hold: now.Add(time.Hour), Lifetime: now.Add(2 * time.Hour),
			}
			store.InstallPropagated(a)
			store.InstallPropagated(b)

			Expect(store.PropagatedSnapshot()).To(ConsistOf(a, b))
		})
	})

	Describe("Delete", func() {
		It("removes the record from lookup immediately when unreferenced", func() {
			item := &confstore.ConfItem{
				Kind:        confstore.KindResvNick,
				HostPattern: "",
				Created:     time.Now(),
			}
			item.UserPattern = ""
			item.HostPattern = "reservedname"
			store.Install(item)
			Expect(store.LookupResvNick("reservedname")).To(Equal(item))

			store.Delete(item)
			Expect(store.LookupResvNick("reservedname")).To(BeNil())
		})
	})
})
