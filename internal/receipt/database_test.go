package receipt

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SQLDB", func() {
	var (
		db  *SQLDB
		err error
	)

	BeforeEach(func() {
		path := filepath.Join(GinkgoT().TempDir(), "receipts.db")
		db, err = NewSQLDB(path)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			Expect(db.Close()).To(Succeed())
		})
	})

	saveReceipt := func(merchantName, city, state string, total float64, items []*Item) int64 {
		GinkgoHelper()
		merchantID, err := db.ResolveMerchant(merchantName, "", city, state, "", "")
		Expect(err).NotTo(HaveOccurred())
		id, err := db.SaveReceipt(&Receipt{
			MerchantID:  merchantID,
			Filename:    "receipt.jpg",
			TotalAmount: total,
		}, items)
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	Describe("categories", func() {
		It("seeds the taxonomy including the Other fallback", func() {
			categories, err := db.ListCategories()
			Expect(err).NotTo(HaveOccurred())
			Expect(categories).To(HaveLen(11))

			id, ok, err := db.CategoryID("Other")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(id).NotTo(BeZero())
		})

		It("reports unknown categories without error", func() {
			_, ok, err := db.CategoryID("Cryptocurrency")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("ResolveMerchant", func() {
		It("returns the same row for the same store regardless of input case", func() {
			first, err := db.ResolveMerchant("WALMART", "", "AUSTIN", "tx", "", "")
			Expect(err).NotTo(HaveOccurred())

			second, err := db.ResolveMerchant("walmart", "123 Main St", "Austin", "TX", "78701", "(512) 555-1234")
			Expect(err).NotTo(HaveOccurred())

			Expect(second).To(Equal(first))
		})

		It("keeps stores with the same name in different cities apart", func() {
			austin, err := db.ResolveMerchant("Target", "", "Austin", "TX", "", "")
			Expect(err).NotTo(HaveOccurred())

			dallas, err := db.ResolveMerchant("Target", "", "Dallas", "TX", "", "")
			Expect(err).NotTo(HaveOccurred())

			Expect(dallas).NotTo(Equal(austin))
		})

		It("falls back to Unknown when the name is blank", func() {
			id, err := db.ResolveMerchant("", "", "", "", "", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).NotTo(BeZero())

			again, err := db.ResolveMerchant("unknown", "", "", "", "", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(id))
		})

		It("backfills location details the first receipt didn't have", func() {
			id, err := db.ResolveMerchant("Walmart", "", "Austin", "TX", "", "")
			Expect(err).NotTo(HaveOccurred())

			again, err := db.ResolveMerchant("walmart", "500 Elm St", "Austin", "TX", "78701", "5125550100")
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(id))

			var address, zip, phone string
			Expect(db.db.Get(&address, `SELECT address FROM merchants WHERE id = ?`, id)).To(Succeed())
			Expect(db.db.Get(&zip, `SELECT zip_code FROM merchants WHERE id = ?`, id)).To(Succeed())
			Expect(db.db.Get(&phone, `SELECT phone FROM merchants WHERE id = ?`, id)).To(Succeed())
			Expect(address).To(Equal("500 Elm St"))
			Expect(zip).To(Equal("78701"))
			Expect(phone).To(Equal("(512) 555-0100"))

			// Settled values stay put on later receipts.
			_, err = db.ResolveMerchant("Walmart", "999 Other Rd", "Austin", "TX", "", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(db.db.Get(&address, `SELECT address FROM merchants WHERE id = ?`, id)).To(Succeed())
			Expect(address).To(Equal("500 Elm St"))
		})

		It("leaves settled rows untouched on repeat lookups", func() {
			id, err := db.ResolveMerchant("Walmart", "500 Elm St", "Austin", "TX", "78701", "5125550100")
			Expect(err).NotTo(HaveOccurred())

			// Pin updated_at so any write to the row would show. The trigger
			// is dropped around the pin because it would overwrite it.
			sentinel := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
			_, err = db.db.Exec(`DROP TRIGGER trg_merchants_updated_at`)
			Expect(err).NotTo(HaveOccurred())
			_, err = db.db.Exec(`UPDATE merchants SET updated_at = ? WHERE id = ?`, sentinel, id)
			Expect(err).NotTo(HaveOccurred())
			_, err = db.db.Exec(`
				CREATE TRIGGER trg_merchants_updated_at
				AFTER UPDATE ON merchants FOR EACH ROW
				BEGIN
					UPDATE merchants SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
				END`)
			Expect(err).NotTo(HaveOccurred())

			again, err := db.ResolveMerchant("WALMART", "500 Elm St", "Austin", "TX", "", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(id))

			var updatedAt time.Time
			Expect(db.db.Get(&updatedAt, `SELECT updated_at FROM merchants WHERE id = ?`, id)).To(Succeed())
			Expect(updatedAt).To(BeTemporally("==", sentinel))
		})
	})

	Describe("SaveReceipt", func() {
		It("computes line totals from price and quantity", func() {
			id := saveReceipt("Target", "Austin", "TX", 25.96, []*Item{
				{ReceiptName: "DAVE SHAMPOO", StandardName: "Dave Shampoo", Price: 12.98, Quantity: 2},
			})

			items, err := db.GetItems(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(1))
			Expect(items[0].LineTotal).To(BeNumerically("~", 25.96, 0.001))
		})

		It("preserves item order and defaults status to pending", func() {
			id := saveReceipt("Target", "Austin", "TX", 30.00, []*Item{
				{ReceiptName: "FIRST", StandardName: "First", Price: 10.00, Quantity: 1},
				{ReceiptName: "SECOND", StandardName: "Second", Price: 20.00, Quantity: 1},
			})

			rec, err := db.GetReceipt(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(StatusPending))

			items, err := db.GetItems(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(items[0].StandardName).To(Equal("First"))
			Expect(items[1].StandardName).To(Equal("Second"))
			Expect(items[0].LineOrder).To(Equal(1))
			Expect(items[1].LineOrder).To(Equal(2))
		})
	})

	Describe("SetStatus", func() {
		var id int64

		BeforeEach(func() {
			id = saveReceipt("Target", "Austin", "TX", 10.00, nil)
		})

		It("approves a pending receipt", func() {
			Expect(db.SetStatus(id, StatusApproved)).To(Succeed())

			rec, err := db.GetReceipt(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(StatusApproved))
		})

		It("refuses to change a decided receipt", func() {
			Expect(db.SetStatus(id, StatusApproved)).To(Succeed())

			err := db.SetStatus(id, StatusRejected)
			Expect(err).To(MatchError(ErrInvalidTransition))
		})

		It("refuses to reset a receipt to pending", func() {
			err := db.SetStatus(id, StatusPending)
			Expect(err).To(MatchError(ErrInvalidTransition))
		})

		It("returns ErrNotFound for a missing receipt", func() {
			err := db.SetStatus(9999, StatusApproved)
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("UpdateReceipt", func() {
		var id int64

		BeforeEach(func() {
			id = saveReceipt("Target", "Austin", "TX", 10.00, []*Item{
				{ReceiptName: "OLD", StandardName: "Old", Price: 10.00, Quantity: 1},
			})
		})

		It("replaces a pending receipt's fields and items", func() {
			rec, err := db.GetReceipt(id)
			Expect(err).NotTo(HaveOccurred())
			rec.TotalAmount = 5.00

			err = db.UpdateReceipt(rec, []*Item{
				{ReceiptName: "NEW", StandardName: "New", Price: 5.00, Quantity: 1},
			})
			Expect(err).NotTo(HaveOccurred())

			updated, err := db.GetReceipt(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.TotalAmount).To(Equal(5.00))

			items, err := db.GetItems(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(1))
			Expect(items[0].StandardName).To(Equal("New"))
		})

		It("refuses edits once the receipt is decided", func() {
			Expect(db.SetStatus(id, StatusApproved)).To(Succeed())

			rec, err := db.GetReceipt(id)
			Expect(err).NotTo(HaveOccurred())

			err = db.UpdateReceipt(rec, nil)
			Expect(err).To(MatchError(ErrInvalidTransition))
		})
	})

	Describe("DeleteReceipt", func() {
		It("removes the receipt and its items", func() {
			id := saveReceipt("Target", "Austin", "TX", 10.00, []*Item{
				{ReceiptName: "ITEM", StandardName: "Item", Price: 10.00, Quantity: 1},
			})

			Expect(db.DeleteReceipt(id)).To(Succeed())

			_, err := db.GetReceipt(id)
			Expect(err).To(MatchError(ErrNotFound))

			items, err := db.GetItems(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(BeEmpty())
		})

		It("returns ErrNotFound for a missing receipt", func() {
			Expect(db.DeleteReceipt(9999)).To(MatchError(ErrNotFound))
		})
	})

	Describe("reporting views", func() {
		var groceriesID int64

		BeforeEach(func() {
			var ok bool
			groceriesID, ok, err = db.CategoryID("Groceries")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("summarizes every receipt regardless of status", func() {
			first := saveReceipt("Target", "Austin", "TX", 100.00, []*Item{
				{ReceiptName: "A", StandardName: "A", Price: 100.00, Quantity: 1},
			})
			saveReceipt("Walmart", "Austin", "TX", 50.00, nil)
			Expect(db.SetStatus(first, StatusRejected)).To(Succeed())

			rows, err := db.ReceiptSummaries()
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(2))

			byMerchant := map[string]*ReceiptSummary{}
			for _, row := range rows {
				byMerchant[row.MerchantName] = row
			}
			Expect(byMerchant["Target"].Status).To(Equal(StatusRejected))
			Expect(byMerchant["Target"].ItemCount).To(Equal(1))
			Expect(byMerchant["Walmart"].ItemCount).To(Equal(0))
		})

		It("aggregates approved spending per merchant", func() {
			first := saveReceipt("Target", "Austin", "TX", 100.00, nil)
			second := saveReceipt("Target", "Austin", "TX", 50.00, nil)
			saveReceipt("Target", "Austin", "TX", 999.00, nil) // stays pending

			Expect(db.SetStatus(first, StatusApproved)).To(Succeed())
			Expect(db.SetStatus(second, StatusApproved)).To(Succeed())

			rows, err := db.MerchantSummaries()
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].Name).To(Equal("Target"))
			Expect(rows[0].ReceiptCount).To(Equal(2))
			Expect(rows[0].TotalSpent).To(BeNumerically("~", 150.00, 0.001))
			Expect(rows[0].AvgPerReceipt).To(BeNumerically("~", 75.00, 0.001))
		})

		It("excludes rejected receipts from category spending", func() {
			approved := saveReceipt("Target", "Austin", "TX", 25.96, []*Item{
				{ReceiptName: "MILK", StandardName: "Milk", Price: 12.98, Quantity: 2,
					CategoryID: nullInt64(groceriesID)},
			})
			rejected := saveReceipt("Walmart", "Austin", "TX", 40.00, []*Item{
				{ReceiptName: "BREAD", StandardName: "Bread", Price: 40.00, Quantity: 1,
					CategoryID: nullInt64(groceriesID)},
			})
			Expect(db.SetStatus(approved, StatusApproved)).To(Succeed())
			Expect(db.SetStatus(rejected, StatusRejected)).To(Succeed())

			rows, err := db.SpendingByCategory()
			Expect(err).NotTo(HaveOccurred())

			var groceries *CategorySpend
			for _, row := range rows {
				if row.CategoryName == "Groceries" {
					groceries = row
				}
			}
			Expect(groceries).NotTo(BeNil())
			Expect(groceries.ItemCount).To(Equal(1))
			Expect(groceries.TotalSpent.Float64).To(BeNumerically("~", 25.96, 0.001))
		})
	})
})
