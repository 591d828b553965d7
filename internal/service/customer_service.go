package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"freightdesk/internal/apperr"
	"freightdesk/internal/model"
	"freightdesk/internal/policy"
	"freightdesk/internal/repository"
)

// CustomerService 客户档案和推送设备
// 余额字段只读，变动走 LedgerService
type CustomerService struct {
	store repository.Store
}

func NewCustomerService(store repository.Store) *CustomerService {
	return &CustomerService{store: store}
}

type CreateCustomerRequest struct {
	Name  string `json:"name" binding:"required"`
	Phone string `json:"phone"`
}

func (s *CustomerService) CreateCustomer(ctx context.Context, actor policy.Actor, req *CreateCustomerRequest) (*model.Customer, error) {
	if !policy.CanCreateOrders(actor.Role) {
		return nil, apperr.Forbidden(fmt.Sprintf("role %s may not register customers", actor.Role))
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}

	customer := &model.Customer{
		Name:  name,
		Phone: strings.TrimSpace(req.Phone),
	}
	if err := s.store.CreateCustomer(ctx, customer); err != nil {
		return nil, fmt.Errorf("创建客户失败: %w", err)
	}
	return customer, nil
}

func (s *CustomerService) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	customer, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) {
			return nil, apperr.NotFound("customer")
		}
		return nil, fmt.Errorf("查询客户失败: %w", err)
	}
	return customer, nil
}

type RegisterDeviceRequest struct {
	PushToken string `json:"push_token" binding:"required"`
}

// RegisterDevice 绑定推送 token；同一个 token 重新绑定时归属新客户
func (s *CustomerService) RegisterDevice(ctx context.Context, customerID int64, req *RegisterDeviceRequest) (*model.CustomerDevice, error) {
	token := strings.TrimSpace(req.PushToken)
	if token == "" {
		return nil, apperr.Validation("push_token is required")
	}
	if _, err := s.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	device := &model.CustomerDevice{CustomerID: customerID, PushToken: token}
	if err := s.store.AddDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("绑定设备失败: %w", err)
	}
	return device, nil
}
