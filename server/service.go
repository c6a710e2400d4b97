package server

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"
)

type methodType struct {
	method    reflect.Method
	hasCtx    bool
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// newService 创建 service 并扫描所有合法方法
func newService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	svc := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	svc.registerMethods()
	if len(svc.method) == 0 {
		return nil, fmt.Errorf("server: %s has no exported rpc methods", svc.name)
	}
	return svc, nil
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// registerMethods keeps the exported methods shaped like
//
//	func (s *T) Method(ctx context.Context, args *Args, reply *Reply) error
//	func (s *T) Method(args *Args, reply *Reply) error
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}

		in := 1
		hasCtx := mt.NumIn() == 4 && mt.In(1) == contextType
		if hasCtx {
			in = 2
		} else if mt.NumIn() != 3 {
			continue
		}
		if mt.In(in).Kind() != reflect.Ptr || mt.In(in+1).Kind() != reflect.Ptr {
			continue
		}

		s.method[method.Name] = &methodType{
			method:    method,
			hasCtx:    hasCtx,
			ArgType:   mt.In(in).Elem(),
			ReplyType: mt.In(in + 1).Elem(),
		}
		logrus.Debugf("server: register method %s.%s", s.name, method.Name)
	}
}

// call decodes the JSON payload into a fresh *Args, invokes the method and
// returns the JSON encoding of *Reply.
func (s *service) call(ctx context.Context, mType *methodType, payload []byte) ([]byte, error) {
	argv := reflect.New(mType.ArgType)
	replyv := reflect.New(mType.ReplyType)

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, argv.Interface()); err != nil {
			return nil, fmt.Errorf("decode %s.%s args: %w", s.name, mType.method.Name, err)
		}
	}

	args := []reflect.Value{s.rcvr, argv, replyv}
	if mType.hasCtx {
		args = []reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv}
	}
	results := mType.method.Func.Call(args)
	if !results[0].IsNil() {
		return nil, results[0].Interface().(error)
	}
	return json.Marshal(replyv.Interface())
}
