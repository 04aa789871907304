package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/spapperi/configurator/internal/models"
	"github.com/spapperi/configurator/internal/whatsapp"
)

// Ensure WhatsAppService implements Service interface
func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
}

// SendMessage emits a sent receipt with the canonical recipient.
func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	ctx := context.Background()
	if err := svc.SendMessage(ctx, "+39 333 1234567", "ciao"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "393331234567" {
			t.Errorf("expected receipt.To 393331234567, got %s", receipt.To)
		}
		if receipt.Status != models.MessageStatusSent {
			t.Errorf("expected receipt.Status %s, got %s", models.MessageStatusSent, receipt.Status)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

// Start and Stop do not error and close channels.
func TestWhatsAppService_StartStop(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	receipt, ok := <-svc.Receipts()
	if ok {
		t.Errorf("expected receipts channel closed, got value %v", receipt)
	}
	response, ok := <-svc.Responses()
	if ok {
		t.Errorf("expected responses channel closed, got value %v", response)
	}
	if err := svc.SendMessage(context.Background(), "+393331234567", "ciao"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped after Stop, got %v", err)
	}
}

// A client error is returned and reported as a failed receipt.
func TestWhatsAppService_SendMessage_FailedReceipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	mockClient.Err = errors.New("not connected")
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "+393331234567", "ciao"); err == nil {
		t.Fatal("expected SendMessage error")
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.Status != models.MessageStatusFailed {
			t.Errorf("expected receipt.Status %s, got %s", models.MessageStatusFailed, receipt.Status)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}
