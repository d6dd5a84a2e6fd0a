package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/sofiworker/udpreplay/gerr"
	"github.com/sofiworker/udpreplay/glog"
	"github.com/sofiworker/udpreplay/gnet/link"
	"github.com/sofiworker/udpreplay/gnet/route"
	"github.com/sofiworker/udpreplay/gretry"
)

// ErrPayloadTooLarge 表示负载超过 MaxDatagramSize
var ErrPayloadTooLarge = errors.New("payload exceeds maximum UDP datagram size")

// Binding 是一个已配置好的 UDP 端点，只归属一个会话。
type Binding interface {
	// Send 将 p 作为一个数据报发往配置的目标地址
	Send(p []byte) (int, error)
	// Receive 阻塞直到收到一个数据报或读超时
	Receive(p []byte) (int, net.Addr, error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	// Close 退出组播组并关闭 socket，可重复调用
	Close() error
}

type sockOpts struct {
	reuseAddr bool
	broadcast bool
}

// 测试中可替换
var (
	resolveLink = link.Resolve
	lookupRoute = route.Lookup
	joinRetry   = gretry.NewOptions(gretry.WithMaxRetries(3))
	joinGroup   = func(pc *ipv4.PacketConn, ifi *net.Interface, group net.Addr) error {
		return pc.JoinGroup(ifi, group)
	}
)

type options struct {
	logger glog.GLogger
}

// Option 配置 Open 的可选行为
type Option func(*options)

// WithLogger 设置日志，默认使用全局 logger
func WithLogger(l glog.GLogger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Open 校验 cfg 并按 role 创建绑定。校验失败时不会打开任何 socket。
func Open(ctx context.Context, cfg Config, role Role, opts ...Option) (Binding, error) {
	o := options{logger: glog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := o.logger.With("mode", cfg.Mode.String(), "role", role.String())
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	iface, err := lookupInterface(cfg)
	if err != nil {
		return nil, err
	}

	if role == RoleReceiver {
		return openReceiver(ctx, cfg, iface, logger)
	}
	return openSender(ctx, cfg, iface, logger)
}

func lookupInterface(cfg Config) (*link.Link, error) {
	const op = "transport.interface"
	if cfg.Interface == "" {
		return nil, nil
	}
	l, err := resolveLink(cfg.Interface)
	if err != nil {
		return nil, gerr.Interface(op, err)
	}
	if cfg.Mode == ModeMulticast && !l.CanMulticast() {
		return nil, gerr.Interface(op, fmt.Errorf("interface %s does not support multicast", l.Name))
	}
	if cfg.Mode == ModeBroadcast && !l.CanBroadcast() {
		return nil, gerr.Interface(op, fmt.Errorf("interface %s does not support broadcast", l.Name))
	}
	return l, nil
}

func listen(ctx context.Context, addr string, so sockOpts) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: so.control}
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

func openSender(ctx context.Context, cfg Config, iface *link.Link, logger glog.GLogger) (Binding, error) {
	const op = "transport.open_sender"

	bindAddr := "0.0.0.0:0"
	if iface != nil && cfg.Mode != ModeMulticast {
		if ip := iface.IPv4(); ip != nil {
			bindAddr = net.JoinHostPort(ip.String(), "0")
		}
	}

	conn, err := listen(ctx, bindAddr, sockOpts{broadcast: cfg.Mode == ModeBroadcast})
	if err != nil {
		return nil, gerr.Bind(op, err)
	}

	b := &udpBinding{conn: conn, dst: cfg.UDPAddr(), logger: logger}
	if cfg.Mode == ModeMulticast {
		pc := ipv4.NewPacketConn(conn)
		if err := pc.SetMulticastTTL(cfg.TTL); err != nil {
			_ = conn.Close()
			return nil, gerr.Bind(op, fmt.Errorf("set multicast ttl: %w", err))
		}
		if err := pc.SetMulticastLoopback(cfg.Loopback); err != nil {
			logger.Warn("set multicast loopback failed", "error", err)
		}
		if iface != nil {
			if err := pc.SetMulticastInterface(iface.Interface()); err != nil {
				_ = conn.Close()
				return nil, gerr.Interface(op, fmt.Errorf("set multicast interface %s: %w", iface.Name, err))
			}
		}
		b.pc = pc
	} else {
		checkEgress(cfg, logger)
	}

	logger.Debug("sender ready", "local", conn.LocalAddr().String(), "remote", b.dst.String())
	return b, nil
}

// checkEgress 记录发往目标地址的出口路由，广播模式下目标不按广播路由时告警
func checkEgress(cfg Config, logger glog.GLogger) {
	dst := cfg.ip()
	r, err := lookupRoute(dst)
	if err != nil {
		logger.Debug("egress route lookup failed", "address", cfg.Address, "error", err)
		return
	}
	logger.Debug("egress route", "address", cfg.Address, "src", ipString(r.Src), "ifindex", r.IfIndex, "kind", r.Kind.String())
	if cfg.Mode == ModeBroadcast && r.Kind != route.KindBroadcast && !dst.Equal(net.IPv4bcast) {
		logger.Warn("broadcast address is not routed as broadcast", "address", cfg.Address, "kind", r.Kind.String())
	}
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func openReceiver(ctx context.Context, cfg Config, iface *link.Link, logger glog.GLogger) (Binding, error) {
	const op = "transport.open_receiver"

	bindAddr := cfg.UDPAddr().String()
	so := sockOpts{}
	if cfg.Mode != ModeUnicast {
		bindAddr = fmt.Sprintf("0.0.0.0:%d", cfg.Port)
		so = sockOpts{reuseAddr: true, broadcast: cfg.Mode == ModeBroadcast}
	}

	conn, err := listen(ctx, bindAddr, so)
	if err != nil {
		return nil, gerr.Bind(op, err)
	}

	if cfg.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(cfg.ReadBuffer); err != nil {
			logger.Warn("set receive buffer failed", "size", cfg.ReadBuffer, "error", err)
		}
	}

	b := &udpBinding{conn: conn, logger: logger}
	if cfg.Mode == ModeMulticast {
		pc := ipv4.NewPacketConn(conn)
		group := &net.UDPAddr{IP: cfg.ip()}
		var ifi *net.Interface
		if iface != nil {
			ifi = iface.Interface()
		}
		res := gretry.Do(ctx, func() error {
			return joinGroup(pc, ifi, group)
		}, withJoinLogging(joinRetry, logger, group))
		if !res.Success() {
			_ = conn.Close()
			// 用户中断不是配置错误
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, gerr.Config(op, "join multicast group %s: %v", group.IP, res.Err)
		}
		b.pc = pc
		b.group = group
		b.groupIface = ifi
	}

	logger.Debug("receiver ready", "local", conn.LocalAddr().String())
	return b, nil
}

func withJoinLogging(o gretry.Options, logger glog.GLogger, group *net.UDPAddr) gretry.Options {
	o.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("join multicast group failed, retrying", "group", group.IP.String(), "attempt", attempt, "delay", delay, "error", err)
	}
	return o
}

type udpBinding struct {
	conn   *net.UDPConn
	pc     *ipv4.PacketConn
	dst    *net.UDPAddr
	logger glog.GLogger

	group      *net.UDPAddr
	groupIface *net.Interface

	closeOnce sync.Once
	closeErr  error
}

func (b *udpBinding) Send(p []byte) (int, error) {
	const op = "transport.send"
	if len(p) > MaxDatagramSize {
		return 0, gerr.Send(op, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(p)))
	}
	if b.dst == nil {
		return 0, gerr.Send(op, errors.New("binding has no destination"))
	}
	n, err := b.conn.WriteToUDP(p, b.dst)
	if err != nil {
		return n, gerr.Send(op, err)
	}
	return n, nil
}

func (b *udpBinding) Receive(p []byte) (int, net.Addr, error) {
	n, addr, err := b.conn.ReadFromUDP(p)
	if err != nil {
		return n, nil, gerr.Receive("transport.receive", err)
	}
	return n, addr, nil
}

func (b *udpBinding) SetReadDeadline(t time.Time) error {
	return b.conn.SetReadDeadline(t)
}

func (b *udpBinding) LocalAddr() net.Addr {
	return b.conn.LocalAddr()
}

func (b *udpBinding) Close() error {
	b.closeOnce.Do(func() {
		if b.group != nil {
			if err := b.pc.LeaveGroup(b.groupIface, b.group); err != nil {
				b.logger.Warn("leave multicast group failed", "group", b.group.IP.String(), "error", err)
			}
		}
		b.closeErr = b.conn.Close()
	})
	return b.closeErr
}
