package chat_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/killallgit/parley/pkg/chat"
)

func TestChat(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Chat Suite")
}

var _ = Describe("Messages", func() {
	Describe("NewUserMessage", func() {
		It("should create a user message with trimmed content", func() {
			msg := chat.NewUserMessage("  Hello World  ")

			Expect(msg.Role).To(Equal(chat.RoleUser))
			Expect(msg.Content).To(Equal("Hello World"))
			Expect(msg.Timestamp).To(BeTemporally("~", time.Now(), time.Second))
		})

		It("should handle whitespace-only content", func() {
			msg := chat.NewUserMessage("   ")

			Expect(msg.Content).To(Equal(""))
			Expect(msg.IsEmpty()).To(BeTrue())
		})
	})

	Describe("NewAssistantMessage", func() {
		It("should create an assistant message without trimming", func() {
			msg := chat.NewAssistantMessage("Hello ")

			Expect(msg.Role).To(Equal(chat.RoleAssistant))
			Expect(msg.Content).To(Equal("Hello "))
			Expect(msg.IsAssistant()).To(BeTrue())
			Expect(msg.IsUser()).To(BeFalse())
		})
	})

	Describe("NewSystemMessage", func() {
		It("should create a system message", func() {
			msg := chat.NewSystemMessage("You are a helpful assistant")

			Expect(msg.Role).To(Equal(chat.RoleSystem))
			Expect(msg.IsSystem()).To(BeTrue())
		})
	})

	Describe("WithTimestamp", func() {
		It("should replace the timestamp without touching content", func() {
			testTime := time.Date(2023, 12, 25, 10, 30, 0, 0, time.UTC)
			msg := chat.NewUserMessage("Hello").WithTimestamp(testTime)

			Expect(msg.Timestamp).To(Equal(testTime))
			Expect(msg.Content).To(Equal("Hello"))
		})
	})
})

var _ = Describe("Preview", func() {
	It("should pass short content through unchanged", func() {
		Expect(chat.Preview("short message")).To(Equal("short message"))
	})

	It("should truncate long content to 60 characters with an ellipsis", func() {
		long := ""
		for i := 0; i < 10; i++ {
			long += "0123456789"
		}

		preview := chat.Preview(long)
		Expect(preview).To(HaveLen(63))
		Expect(preview).To(HaveSuffix("..."))
		Expect(preview[:60]).To(Equal(long[:60]))
	})

	It("should leave exactly-60-character content alone", func() {
		content := ""
		for i := 0; i < 6; i++ {
			content += "0123456789"
		}
		Expect(chat.Preview(content)).To(Equal(content))
	})
})
